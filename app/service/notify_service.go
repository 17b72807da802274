package service

import (
	"photo-fusion/app/config"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"

	"resty.dev/v3"
)

// Notifier 任务完成通知：向配置的 webhook 地址推送任务终态。
// 通知失败只记日志，不影响任务本身。
type Notifier struct {
	url    string
	client *resty.Client
	log    *logger.Logger
}

// NewNotifier 创建通知器，未配置地址时所有调用都是空操作
func NewNotifier(cfg config.WebhookConfig, log *logger.Logger) *Notifier {
	n := &Notifier{url: cfg.URL, log: log}
	if cfg.URL != "" {
		n.client = resty.New()
	}
	return n
}

type taskFinishedPayload struct {
	TaskID    string           `json:"task_id"`
	TaskType  model.TaskType   `json:"task_type"`
	Status    model.TaskStatus `json:"status"`
	Processed int64            `json:"processed"`
	Total     int64            `json:"total"`
}

// TaskFinished 推送任务终态
func (n *Notifier) TaskFinished(taskID string, taskType model.TaskType, status model.TaskStatus, processed, total int64) {
	if n.client == nil {
		return
	}

	payload := taskFinishedPayload{
		TaskID:    taskID,
		TaskType:  taskType,
		Status:    status,
		Processed: processed,
		Total:     total,
	}

	resp, err := n.client.R().
		SetBody(payload).
		Post(n.url)
	if err != nil {
		n.log.Warnf("任务完成通知发送失败: %v", err)
		return
	}
	if resp.StatusCode() >= 300 {
		n.log.Warnf("任务完成通知返回异常状态: %d", resp.StatusCode())
	}
}
