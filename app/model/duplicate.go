package model

import (
	"time"
)

// DuplicateGroup 重复媒体分组
type DuplicateGroup struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	MediaType string    `gorm:"size:10;not null" json:"media_type"` // 图片和视频分开分组
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Members []DuplicateMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

// TableName 指定表名
func (DuplicateGroup) TableName() string {
	return "duplicate_groups"
}

// DuplicateMember 分组成员，一个媒体同一时间只属于一个分组
type DuplicateMember struct {
	ID      uint `gorm:"primarykey" json:"id"`
	GroupID uint `gorm:"not null;index" json:"group_id"`
	MediaID uint `gorm:"not null;uniqueIndex" json:"media_id"`

	Media *Media `gorm:"foreignKey:MediaID" json:"media,omitempty"`
}

// TableName 指定表名
func (DuplicateMember) TableName() string {
	return "duplicate_members"
}
