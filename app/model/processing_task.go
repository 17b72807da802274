package model

import (
	"time"
)

// TaskType 后台任务类型
type TaskType string

const (
	TaskTypeScan              TaskType = "scan"                // 扫描媒体库
	TaskTypeProcessMedia      TaskType = "process_media"       // 媒体处理流水线
	TaskTypeClusterPersons    TaskType = "cluster_persons"     // 人物聚类
	TaskTypeFindDuplicates    TaskType = "find_duplicates"     // 重复检测
	TaskTypeCleanMissingFiles TaskType = "clean_missing_files" // 清理丢失文件
	TaskTypeAutoTagCustom     TaskType = "auto_tag_custom"     // 自定义标签重打
)

// IsValidTaskType 检查任务类型是否有效
func IsValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeScan, TaskTypeProcessMedia, TaskTypeClusterPersons,
		TaskTypeFindDuplicates, TaskTypeCleanMissingFiles, TaskTypeAutoTagCustom:
		return true
	}
	return false
}

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal 终态任务不再允许任何变更
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled || s == TaskStatusFailed
}

// ProcessingTask 后台任务记录
type ProcessingTask struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	TaskType   TaskType   `gorm:"size:32;not null;index" json:"task_type"`
	Status     TaskStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	Total      int64      `gorm:"default:0" json:"total"`     // 总工作量，枚举完成前可能为 0
	Processed  int64      `gorm:"default:0" json:"processed"` // 已完成数量
	ErrorMsg   string     `gorm:"size:1000" json:"error_msg,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// TableName 指定表名
func (ProcessingTask) TableName() string {
	return "processing_tasks"
}

// TaskProgress 任务的临时进度信息，只存内存不落库
type TaskProgress struct {
	CurrentItem string           `json:"current_item"` // 当前处理的文件路径或标识
	CurrentStep string           `json:"current_step"` // 当前所处的流水线阶段
	Extras      map[string]int64 `json:"extras,omitempty"`
}
