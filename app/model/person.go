package model

import (
	"time"
)

// Person 人物模型，由聚类引擎创建和合并
type Person struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	Name            string    `gorm:"size:200" json:"name"`
	AppearanceCount int       `gorm:"default:0;index" json:"appearance_count"` // 派生值，成员变动后重算
	ProfileFaceID   *uint     `json:"profile_face_id"`                         // 代表人脸
	Centroid        []float32 `gorm:"serializer:json" json:"-"`                // 归一化质心向量，启动时重建向量索引用

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Person) TableName() string {
	return "persons"
}

// PersonRelation 人物共现关系，按媒体分组统计的人物对出现次数
type PersonRelation struct {
	ID            uint `gorm:"primarykey" json:"id"`
	PersonAID     uint `gorm:"not null;uniqueIndex:idx_person_pair" json:"person_a_id"` // 约定 PersonAID < PersonBID
	PersonBID     uint `gorm:"not null;uniqueIndex:idx_person_pair" json:"person_b_id"`
	CoAppearances int  `gorm:"default:0" json:"co_appearances"`
}

// TableName 指定表名
func (PersonRelation) TableName() string {
	return "person_relations"
}
