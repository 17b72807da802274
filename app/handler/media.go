package handler

import (
	"net/http"
	"strconv"

	"photo-fusion/app/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// MediaHandler 媒体库处理器
type MediaHandler struct {
	db *gorm.DB
}

// NewMediaHandler 创建媒体库处理器
func NewMediaHandler(db *gorm.DB) *MediaHandler {
	return &MediaHandler{db: db}
}

// List 分页列出媒体记录
func (h *MediaHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := h.db.Model(&model.Media{})
	if mediaType := c.Query("media_type"); mediaType != "" {
		query = query.Where("media_type = ?", mediaType)
	}
	switch c.Query("missing") {
	case "true":
		query = query.Where("missing_since IS NOT NULL")
	case "false":
		query = query.Where("missing_since IS NULL")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询媒体失败")
		return
	}

	var media []model.Media
	if err := query.Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&media).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询媒体失败")
		return
	}

	success(c, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"media":     media,
	}, "查询成功")
}

// Get 查询单个媒体及其人脸和标签
func (h *MediaHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "无效的媒体ID")
		return
	}

	var media model.Media
	if err := h.db.First(&media, uint(id)).Error; err != nil {
		fail(c, http.StatusNotFound, 404, "媒体不存在")
		return
	}

	var faces []model.Face
	if err := h.db.Where("media_id = ?", media.ID).Find(&faces).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询人脸失败")
		return
	}

	type taggedRow struct {
		model.Tag
		Confidence float64 `json:"confidence"`
	}
	var tags []taggedRow
	err = h.db.Model(&model.Tag{}).
		Select("tags.*, media_tags.confidence").
		Joins("JOIN media_tags ON media_tags.tag_id = tags.id").
		Where("media_tags.media_id = ?", media.ID).
		Scan(&tags).Error
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询标签失败")
		return
	}

	success(c, gin.H{"media": media, "faces": faces, "tags": tags}, "查询成功")
}

// Failures 分页列出处理失败记录，可按任务过滤
func (h *MediaHandler) Failures(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := h.db.Model(&model.FailureLog{})
	if taskID := c.Query("task_id"); taskID != "" {
		query = query.Where("task_id = ?", taskID)
	}
	if taskType := c.Query("task_type"); taskType != "" {
		query = query.Where("task_type = ?", taskType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询失败记录失败")
		return
	}

	var failures []model.FailureLog
	if err := query.Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&failures).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询失败记录失败")
		return
	}

	success(c, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"failures":  failures,
	}, "查询成功")
}
