package service

import (
	"errors"
	"fmt"

	"photo-fusion/app/config"
	"photo-fusion/app/logger"
	"photo-fusion/app/model"

	"github.com/robfig/cron/v3"
)

// Scheduler 定时触发后台任务。cron 表达式为空的任务不注册。
// 同类任务已在运行时编排器直接返回现有任务，这里不视为错误。
type Scheduler struct {
	cron *cron.Cron
	orch *Orchestrator
	log  *logger.Logger
}

// NewScheduler 创建定时调度器
func NewScheduler(cfg *config.SchedulerConfig, orch *Orchestrator, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		orch: orch,
		log:  log,
	}

	entries := []struct {
		spec     string
		taskType model.TaskType
	}{
		{cfg.ScanCron, model.TaskTypeScan},
		{cfg.ProcessCron, model.TaskTypeProcessMedia},
		{cfg.ClusterCron, model.TaskTypeClusterPersons},
		{cfg.DuplicatesCron, model.TaskTypeFindDuplicates},
		{cfg.CleanCron, model.TaskTypeCleanMissingFiles},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		taskType := e.taskType
		if _, err := s.cron.AddFunc(e.spec, func() { s.trigger(taskType) }); err != nil {
			return nil, fmt.Errorf("注册定时任务 %s 失败: %w", taskType, err)
		}
		log.Infof("⏰ 定时任务已注册: %s (%s)", taskType, e.spec)
	}

	return s, nil
}

func (s *Scheduler) trigger(taskType model.TaskType) {
	task, err := s.orch.Start(taskType)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			s.log.Infof("定时任务 %s 跳过：系统繁忙", taskType)
			return
		}
		s.log.Errorf("定时任务 %s 启动失败: %v", taskType, err)
		return
	}
	s.log.Infof("⏰ 定时任务已触发: %s (%s)", taskType, task.ID)
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度，等待在途回调结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
