package model

import (
	"time"
)

// Tag 标签模型
type Tag struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Source    string    `gorm:"size:20;default:'auto'" json:"source"` // auto 或 custom
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (Tag) TableName() string {
	return "tags"
}

// MediaTag 媒体与标签的关联
type MediaTag struct {
	ID         uint    `gorm:"primarykey" json:"id"`
	MediaID    uint    `gorm:"not null;uniqueIndex:idx_media_tag" json:"media_id"`
	TagID      uint    `gorm:"not null;uniqueIndex:idx_media_tag" json:"tag_id"`
	Confidence float64 `json:"confidence"`

	Tag *Tag `gorm:"foreignKey:TagID" json:"tag,omitempty"`
}

// TableName 指定表名
func (MediaTag) TableName() string {
	return "media_tags"
}
