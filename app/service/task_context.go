package service

import (
	"context"
	"time"

	"photo-fusion/app/logger"
	"photo-fusion/app/model"

	"gorm.io/gorm"
)

// TaskContext 传给工作函数的任务上下文：
// 协作取消、持久化进度计数、内存进度侧信道
type TaskContext struct {
	Task model.ProcessingTask

	o      *Orchestrator
	db     *gorm.DB
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	lastCheck time.Time
	cancelled bool

	processed int64
	total     int64
	lastFlush time.Time

	step   string
	item   string
	extras map[string]int64
}

func newTaskContext(o *Orchestrator, task model.ProcessingTask) *TaskContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskContext{
		Task:   task,
		o:      o,
		db:     o.db,
		log:    o.log,
		ctx:    ctx,
		cancel: cancel,
		extras: make(map[string]int64),
	}
}

// Context 任务生命周期绑定的 context，观察到取消后会被关闭
func (tc *TaskContext) Context() context.Context {
	return tc.ctx
}

// DB 数据库句柄
func (tc *TaskContext) DB() *gorm.DB {
	return tc.db
}

// Log 日志器
func (tc *TaskContext) Log() *logger.Logger {
	return tc.log
}

// Cancelled 协作取消检查点。按壁钟节流读取自己的持久化状态，
// 一旦观察到 cancelled 就保持为真并关闭 Context。
// 状态读取失败不视为取消，下个检查点再试。
func (tc *TaskContext) Cancelled() bool {
	if tc.cancelled {
		return true
	}
	if time.Since(tc.lastCheck) < cancelCheckInterval {
		return false
	}
	tc.lastCheck = time.Now()

	var status model.TaskStatus
	err := tc.db.Model(&model.ProcessingTask{}).
		Where("id = ?", tc.Task.ID).
		Pluck("status", &status).Error
	if err != nil {
		tc.log.Warnf("任务 %s 读取状态失败: %v", tc.Task.ID, err)
		return false
	}

	if status == model.TaskStatusCancelled {
		tc.cancelled = true
		tc.cancel()
	}
	return tc.cancelled
}

// SetTotal 设置总工作量
func (tc *TaskContext) SetTotal(total int64) {
	tc.total = total
	tc.flushCounters(false)
}

// AddTotal 增加总工作量（扫描边走边发现新文件时用）
func (tc *TaskContext) AddTotal(n int64) {
	tc.total += n
	tc.flushCounters(false)
}

// AddProcessed 增加完成计数
func (tc *TaskContext) AddProcessed(n int64) {
	tc.processed += n
	tc.flushCounters(false)
}

// Processed 当前完成计数
func (tc *TaskContext) Processed() int64 {
	return tc.processed
}

// Total 当前总工作量
func (tc *TaskContext) Total() int64 {
	return tc.total
}

// flushCounters 把计数器写回任务行，按壁钟节流；force 时立即写
func (tc *TaskContext) flushCounters(force bool) {
	if !force && time.Since(tc.lastFlush) < counterFlushInterval {
		return
	}
	tc.lastFlush = time.Now()

	err := tc.db.Model(&model.ProcessingTask{}).
		Where("id = ?", tc.Task.ID).
		Updates(map[string]interface{}{
			"total":     tc.total,
			"processed": tc.processed,
		}).Error
	if err != nil {
		tc.log.Warnf("任务 %s 写进度失败: %v", tc.Task.ID, err)
	}
}

// SetStep 更新当前阶段
func (tc *TaskContext) SetStep(step string) {
	tc.step = step
	tc.item = ""
	tc.publishProgress()
}

// SetItem 更新当前处理条目
func (tc *TaskContext) SetItem(item string) {
	tc.item = item
	tc.publishProgress()
}

// AddExtra 累加一个附加计数（比如失败条数）
func (tc *TaskContext) AddExtra(key string, n int64) {
	tc.extras[key] += n
	tc.publishProgress()
}

// publishProgress 发布进度快照；条目整体替换，读方不会看到半成品
func (tc *TaskContext) publishProgress() {
	extras := make(map[string]int64, len(tc.extras))
	for k, v := range tc.extras {
		extras[k] = v
	}
	tc.o.setProgress(tc.Task.ID, &model.TaskProgress{
		CurrentItem: tc.item,
		CurrentStep: tc.step,
		Extras:      extras,
	})
}

// Fail 记录一条失败日志并累加失败计数，单条失败从不中止任务
func (tc *TaskContext) Fail(path, stage, reason string) {
	entry := model.FailureLog{
		TaskID:   tc.Task.ID,
		TaskType: tc.Task.TaskType,
		Path:     path,
		Stage:    stage,
		Reason:   reason,
	}
	if err := tc.db.Create(&entry).Error; err != nil {
		tc.log.Errorf("写失败日志失败: %v", err)
	}
	tc.AddExtra("failures", 1)
	tc.log.Warnf("❌ 条目处理失败 [%s] %s: %s", stage, path, reason)
}
