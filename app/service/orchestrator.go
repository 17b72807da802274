package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"photo-fusion/app/config"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// TaskFunc 后台任务的工作函数，通过 TaskContext 汇报进度和检查取消
type TaskFunc func(tc *TaskContext) error

// ActiveTask 带临时进度的任务视图，只用于 API 展示
type ActiveTask struct {
	model.ProcessingTask
	Progress *model.TaskProgress `json:"progress,omitempty"`
}

// Orchestrator 后台任务编排器：持久化任务记录、调度工作协程、
// 维护内存进度侧信道，并在任务成功后串联下一阶段
type Orchestrator struct {
	db   *gorm.DB
	cfg  *config.Config
	log  *logger.Logger
	lock *HeavyWriteLock

	// 任务ID -> *model.TaskProgress，带TTL兜底避免异常退出后条目滞留
	progress *cache.Cache

	notifier *Notifier

	mu      sync.RWMutex
	runners map[model.TaskType]TaskFunc

	wg sync.WaitGroup
}

// NewOrchestrator 创建任务编排器
func NewOrchestrator(db *gorm.DB, cfg *config.Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		db:       db,
		cfg:      cfg,
		log:      log,
		lock:     NewHeavyWriteLock(log),
		progress: cache.New(24*time.Hour, time.Hour),
		notifier: NewNotifier(cfg.Webhook, log),
		runners:  make(map[model.TaskType]TaskFunc),
	}
}

// Lock 暴露重写锁给各任务实现
func (o *Orchestrator) Lock() *HeavyWriteLock {
	return o.lock
}

// Register 注册某任务类型的工作函数
func (o *Orchestrator) Register(taskType model.TaskType, fn TaskFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runners[taskType] = fn
}

// Start 触发一个任务。同类型已有运行中任务时原样返回该任务（幂等触发）；
// 数据库本身查不动时返回 ErrBusy，由调用方稍后重试，编排器不做内部重试。
func (o *Orchestrator) Start(taskType model.TaskType) (*model.ProcessingTask, error) {
	o.mu.RLock()
	fn, ok := o.runners[taskType]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidTaskType
	}

	// 先查后建，窄窗口内的并发重复触发只是浪费不是损坏，可以接受
	var running model.ProcessingTask
	err := o.db.Where("task_type = ? AND status = ?", taskType, model.TaskStatusRunning).
		First(&running).Error
	if err == nil {
		o.log.Infof("任务 %s 已在运行（%s），跳过重复触发", taskType, running.ID)
		return &running, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		o.log.Errorf("查询运行中任务失败: %v", err)
		return nil, ErrBusy
	}

	task := model.ProcessingTask{
		ID:       uuid.NewString(),
		TaskType: taskType,
		Status:   model.TaskStatusPending,
	}
	if err := o.db.Create(&task).Error; err != nil {
		o.log.Errorf("创建任务记录失败: %v", err)
		return nil, ErrBusy
	}

	o.log.Infof("🚀 任务已创建: type=%s id=%s", taskType, task.ID)

	o.wg.Add(1)
	go o.run(task, fn)

	return &task, nil
}

// Cancel 取消一个 pending 或 running 的任务
func (o *Orchestrator) Cancel(taskID string) (*model.ProcessingTask, error) {
	var task model.ProcessingTask
	if err := o.db.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	if task.Status.IsTerminal() {
		return nil, ErrInvalidTaskState
	}

	now := time.Now()
	res := o.db.Model(&model.ProcessingTask{}).
		Where("id = ? AND status IN ?", taskID,
			[]model.TaskStatus{model.TaskStatusPending, model.TaskStatusRunning}).
		Updates(map[string]interface{}{
			"status":      model.TaskStatusCancelled,
			"finished_at": &now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// 跟任务自己的收尾撞上了，按已终态处理
		return nil, ErrInvalidTaskState
	}

	o.log.Infof("任务 %s 已标记取消，等待其在检查点停止", taskID)

	if err := o.db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Get 查询任务
func (o *Orchestrator) Get(taskID string) (*model.ProcessingTask, error) {
	var task model.ProcessingTask
	if err := o.db.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Progress 返回任务的内存进度快照，任务不在跑时为 nil
func (o *Orchestrator) Progress(taskID string) *model.TaskProgress {
	if v, ok := o.progress.Get(taskID); ok {
		return v.(*model.TaskProgress)
	}
	return nil
}

// List 按创建时间倒序列出最近的任务
func (o *Orchestrator) List(limit int) ([]model.ProcessingTask, error) {
	if limit <= 0 {
		limit = 50
	}
	var tasks []model.ProcessingTask
	err := o.db.Order("created_at DESC").Limit(limit).Find(&tasks).Error
	return tasks, err
}

// ListActive 列出未终结任务并附上内存进度
func (o *Orchestrator) ListActive() ([]ActiveTask, error) {
	var tasks []model.ProcessingTask
	err := o.db.Where("status IN ?",
		[]model.TaskStatus{model.TaskStatusPending, model.TaskStatusRunning}).
		Order("created_at ASC").Find(&tasks).Error
	if err != nil {
		return nil, err
	}

	out := make([]ActiveTask, 0, len(tasks))
	for _, t := range tasks {
		at := ActiveTask{ProcessingTask: t}
		if v, ok := o.progress.Get(t.ID); ok {
			at.Progress = v.(*model.TaskProgress)
		}
		out = append(out, at)
	}
	return out, nil
}

// Wait 等待所有在跑的任务协程退出，只在进程关闭时使用
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run 任务协程：状态置为 running、执行工作函数、收尾
func (o *Orchestrator) run(task model.ProcessingTask, fn TaskFunc) {
	defer o.wg.Done()

	// pending -> running 的守护更新：启动前已被取消就直接退出
	now := time.Now()
	res := o.db.Model(&model.ProcessingTask{}).
		Where("id = ? AND status = ?", task.ID, model.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":     model.TaskStatusRunning,
			"started_at": &now,
		})
	if res.Error != nil {
		o.log.Errorf("任务 %s 置为运行中失败: %v", task.ID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		o.log.Infof("任务 %s 启动前已被取消", task.ID)
		return
	}

	tc := newTaskContext(o, task)
	startTime := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("任务发生panic: %v", r)
			}
		}()
		err = fn(tc)
	}()

	tc.flushCounters(true)

	// 决定终态
	status := model.TaskStatusCompleted
	errMsg := ""
	switch {
	case tc.cancelled || errors.Is(err, errCancelled):
		status = model.TaskStatusCancelled
	case err != nil:
		status = model.TaskStatusFailed
		errMsg = err.Error()
	}

	// running -> 终态的守护更新：工作函数没赶上检查点时，
	// Cancel 可能已经抢先写入 cancelled，终态一经写入不得覆盖
	finished := time.Now()
	update := map[string]interface{}{
		"status":      status,
		"finished_at": &finished,
		"error_msg":   errMsg,
	}
	res = o.db.Model(&model.ProcessingTask{}).
		Where("id = ? AND status = ?", task.ID, model.TaskStatusRunning).
		Updates(update)
	if res.Error != nil {
		o.log.Errorf("任务 %s 写入终态失败: %v", task.ID, res.Error)
	} else if res.RowsAffected == 0 {
		status = model.TaskStatusCancelled
		if current, err := o.Get(task.ID); err == nil && current.Status.IsTerminal() {
			status = current.Status
		}
		o.log.Infof("任务 %s 终态已被外部写入（%s），保留该状态", task.ID, status)
	}

	o.progress.Delete(task.ID)
	tc.cancel()

	elapsed := time.Since(startTime).Round(time.Millisecond)
	switch status {
	case model.TaskStatusCompleted:
		o.log.Infof("✅ 任务完成: type=%s id=%s 处理=%d/%d 耗时=%v",
			task.TaskType, task.ID, tc.processed, tc.total, elapsed)
	case model.TaskStatusCancelled:
		o.log.Infof("任务已取消: type=%s id=%s 已处理=%d 耗时=%v",
			task.TaskType, task.ID, tc.processed, elapsed)
	default:
		o.log.Errorf("❌ 任务失败: type=%s id=%s 错误=%v 耗时=%v",
			task.TaskType, task.ID, err, elapsed)
	}

	o.notifier.TaskFinished(task.ID, task.TaskType, status, tc.processed, tc.total)

	// 成功完成才串联下一阶段，取消或失败不触发
	if status == model.TaskStatusCompleted {
		o.runChain(task.TaskType)
	}
}

// runChain 任务链：在当前协程里同步创建并启动下一阶段任务。
// 链条是"成功则继续"，上一阶段取消不会波及尚未开始的后续阶段。
func (o *Orchestrator) runChain(finished model.TaskType) {
	var next model.TaskType
	switch finished {
	case model.TaskTypeCleanMissingFiles:
		if !o.cfg.Pipeline.ChainScan {
			return
		}
		next = model.TaskTypeScan
	case model.TaskTypeScan:
		if !o.cfg.Pipeline.ChainProcess {
			return
		}
		next = model.TaskTypeProcessMedia
	case model.TaskTypeProcessMedia:
		if !o.cfg.Pipeline.ChainProcess {
			return
		}
		next = model.TaskTypeClusterPersons
	default:
		return
	}

	o.log.Infof("🔗 任务链: %s 完成，接续 %s", finished, next)
	if _, err := o.Start(next); err != nil && !errors.Is(err, ErrBusy) {
		o.log.Errorf("任务链启动 %s 失败: %v", next, err)
	}
}

// setProgress 以替换方式写入进度条目，读方拿到的始终是不再变更的快照
func (o *Orchestrator) setProgress(taskID string, p *model.TaskProgress) {
	o.progress.Set(taskID, p, cache.DefaultExpiration)
}

// 取消检查节流间隔：按壁钟时间而不是按条目数，避免每条记录都读一次状态
const cancelCheckInterval = 2 * time.Second

// 进度计数器写库的节流间隔
const counterFlushInterval = time.Second
