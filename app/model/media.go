package model

import (
	"time"
)

// MediaType 媒体类型
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// Media 媒体文件模型
type Media struct {
	ID             uint    `gorm:"primarykey" json:"id"`
	Path           string  `gorm:"size:1000;not null;uniqueIndex" json:"path"`
	MediaType      string  `gorm:"size:10;not null;index" json:"media_type"` // image 或 video
	SizeBytes      int64   `json:"size_bytes"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Duration       float64 `json:"duration"` // 秒，图片为 0
	ThumbnailPath  string  `gorm:"size:1000" json:"thumbnail_path"`
	PerceptualHash string  `gorm:"size:32;index" json:"perceptual_hash"`

	// 各处理阶段的完成标记，是"还需要处理什么"的唯一持久化依据
	ScenesExtracted   bool `gorm:"default:false;index" json:"scenes_extracted"`
	FacesExtracted    bool `gorm:"default:false;index" json:"faces_extracted"`
	EmbeddingsCreated bool `gorm:"default:false;index" json:"embeddings_created"`
	AutoTagged        bool `gorm:"default:false;index" json:"auto_tagged"`

	// 文件丢失跟踪
	MissingSince     *time.Time `gorm:"index" json:"missing_since"`
	MissingConfirmed bool       `gorm:"default:false" json:"missing_confirmed"`

	Embedding []float32 `gorm:"serializer:json" json:"-"` // 整图向量，用于以图搜图

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Media) TableName() string {
	return "media"
}

// IsVideo 是否为视频
func (m *Media) IsVideo() bool {
	return m.MediaType == MediaTypeVideo
}
