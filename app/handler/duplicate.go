package handler

import (
	"net/http"
	"strconv"

	"photo-fusion/app/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DuplicateHandler 重复组处理器
type DuplicateHandler struct {
	db *gorm.DB
}

// NewDuplicateHandler 创建重复组处理器
func NewDuplicateHandler(db *gorm.DB) *DuplicateHandler {
	return &DuplicateHandler{db: db}
}

// duplicateGroupView 重复组及成员媒体
type duplicateGroupView struct {
	model.DuplicateGroup
	Media []model.Media `json:"media"`
}

// List 分页列出重复组，每组附带成员媒体记录
func (h *DuplicateHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := h.db.Model(&model.DuplicateGroup{})
	if mediaType := c.Query("media_type"); mediaType != "" {
		query = query.Where("media_type = ?", mediaType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询重复组失败")
		return
	}

	var groups []model.DuplicateGroup
	if err := query.Order("id ASC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&groups).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询重复组失败")
		return
	}

	out := make([]duplicateGroupView, 0, len(groups))
	for _, g := range groups {
		var members []model.DuplicateMember
		if err := h.db.Where("group_id = ?", g.ID).Find(&members).Error; err != nil {
			fail(c, http.StatusInternalServerError, 500, "查询组成员失败")
			return
		}
		ids := make([]uint, len(members))
		for i, m := range members {
			ids[i] = m.MediaID
		}

		var media []model.Media
		if len(ids) > 0 {
			if err := h.db.Where("id IN ?", ids).Find(&media).Error; err != nil {
				fail(c, http.StatusInternalServerError, 500, "查询成员媒体失败")
				return
			}
		}
		out = append(out, duplicateGroupView{DuplicateGroup: g, Media: media})
	}

	success(c, gin.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"groups":    out,
	}, "查询成功")
}
