package model

import (
	"time"
)

// Face 人脸模型，由媒体处理流水线创建，仅由聚类引擎修改归属
type Face struct {
	ID       uint  `gorm:"primarykey" json:"id"`
	MediaID  uint  `gorm:"not null;index" json:"media_id"`
	PersonID *uint `gorm:"index" json:"person_id"` // 为空表示尚未归入任何人物

	// 人脸框，相对图片尺寸的比例坐标
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`

	Embedding []float32 `gorm:"serializer:json" json:"-"` // 人脸特征向量

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Media  *Media  `gorm:"foreignKey:MediaID" json:"media,omitempty"`
	Person *Person `gorm:"foreignKey:PersonID" json:"person,omitempty"`
}

// TableName 指定表名
func (Face) TableName() string {
	return "faces"
}
