package model

import (
	"time"
)

// FailureLog 单条目失败记录，只用于事后排查，不参与任务控制流
type FailureLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	TaskID    string    `gorm:"size:36;index" json:"task_id"`
	TaskType  TaskType  `gorm:"size:32;index" json:"task_type"`
	Path      string    `gorm:"size:1000" json:"path"`
	Stage     string    `gorm:"size:50" json:"stage"` // 失败发生的阶段
	Reason    string    `gorm:"size:1000" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (FailureLog) TableName() string {
	return "failure_logs"
}
