package handler

import (
	"net/http"
	"sort"
	"strconv"

	"photo-fusion/app/model"
	"photo-fusion/app/service"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// PersonHandler 人物处理器
type PersonHandler struct {
	db       *gorm.DB
	cluster  *service.ClusterService
	collator *collate.Collator
}

// NewPersonHandler 创建人物处理器。
// 人物名按中文拼音序排序，数据库的字节序对中文名没有意义。
func NewPersonHandler(db *gorm.DB, cluster *service.ClusterService) *PersonHandler {
	return &PersonHandler{
		db:       db,
		cluster:  cluster,
		collator: collate.New(language.Chinese, collate.IgnoreCase),
	}
}

// List 人物列表，默认按名字排序，sort=appearances 按出现次数倒序
func (h *PersonHandler) List(c *gin.Context) {
	var persons []model.Person
	query := h.db.Model(&model.Person{})

	if min, err := strconv.Atoi(c.Query("min_appearances")); err == nil && min > 0 {
		query = query.Where("appearance_count >= ?", min)
	}

	if err := query.Find(&persons).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询人物失败")
		return
	}

	switch c.DefaultQuery("sort", "name") {
	case "appearances":
		sort.Slice(persons, func(i, j int) bool {
			if persons[i].AppearanceCount != persons[j].AppearanceCount {
				return persons[i].AppearanceCount > persons[j].AppearanceCount
			}
			return persons[i].ID < persons[j].ID
		})
	default:
		sort.Slice(persons, func(i, j int) bool {
			if r := h.collator.CompareString(persons[i].Name, persons[j].Name); r != 0 {
				return r < 0
			}
			return persons[i].ID < persons[j].ID
		})
	}

	success(c, persons, "查询成功")
}

// Get 查询单个人物及其人脸
func (h *PersonHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "无效的人物ID")
		return
	}

	var person model.Person
	if err := h.db.First(&person, uint(id)).Error; err != nil {
		fail(c, http.StatusNotFound, 404, "人物不存在")
		return
	}

	var faces []model.Face
	if err := h.db.Where("person_id = ?", person.ID).
		Order("id ASC").Find(&faces).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询人脸失败")
		return
	}

	success(c, gin.H{"person": person, "faces": faces}, "查询成功")
}

// RenamePersonRequest 重命名请求
type RenamePersonRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// Rename 重命名人物
func (h *PersonHandler) Rename(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "无效的人物ID")
		return
	}

	var req RenamePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	res := h.db.Model(&model.Person{}).Where("id = ?", uint(id)).
		Update("name", req.Name)
	if res.Error != nil {
		fail(c, http.StatusInternalServerError, 500, "重命名失败")
		return
	}
	if res.RowsAffected == 0 {
		fail(c, http.StatusNotFound, 404, "人物不存在")
		return
	}

	success(c, gin.H{"id": uint(id), "name": req.Name}, "重命名成功")
}

// MergePersonsRequest 手动合并请求
type MergePersonsRequest struct {
	SourceID uint `json:"source_id" binding:"required"`
	TargetID uint `json:"target_id" binding:"required"`
}

// Merge 手动合并两个人物
func (h *PersonHandler) Merge(c *gin.Context) {
	var req MergePersonsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	survivor, err := h.cluster.MergePersons(req.SourceID, req.TargetID)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "合并失败: "+err.Error())
		return
	}

	success(c, gin.H{"survivor_id": survivor}, "合并成功")
}

// relatedPerson 共现关系条目
type relatedPerson struct {
	Person        model.Person `json:"person"`
	CoAppearances int          `json:"co_appearances"`
}

// Relations 查询与指定人物共同出现过的人物
func (h *PersonHandler) Relations(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "无效的人物ID")
		return
	}
	personID := uint(id)

	var relations []model.PersonRelation
	if err := h.db.Where("person_a_id = ? OR person_b_id = ?", personID, personID).
		Order("co_appearances DESC").Find(&relations).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询人物关系失败")
		return
	}

	out := make([]relatedPerson, 0, len(relations))
	for _, rel := range relations {
		otherID := rel.PersonAID
		if otherID == personID {
			otherID = rel.PersonBID
		}
		var other model.Person
		if err := h.db.First(&other, otherID).Error; err != nil {
			continue
		}
		out = append(out, relatedPerson{Person: other, CoAppearances: rel.CoAppearances})
	}

	success(c, out, "查询成功")
}
