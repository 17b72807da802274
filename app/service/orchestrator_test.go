package service

import (
	"errors"
	"testing"
	"time"

	"photo-fusion/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartUnknownTypeRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Start(model.TaskTypeScan)
	assert.ErrorIs(t, err, ErrInvalidTaskType)
}

func TestStartIdempotentWhileRunning(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	block := make(chan struct{})
	o.Register(model.TaskTypeScan, func(tc *TaskContext) error {
		<-block
		return nil
	})

	first, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)

	// 等任务进入 running
	require.Eventually(t, func() bool {
		task, err := o.Get(first.ID)
		return err == nil && task.Status == model.TaskStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	// 同类型重复触发拿回同一个任务
	second, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	close(block)
	o.Wait()

	task, err := o.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.NotNil(t, task.FinishedAt)
}

func TestRunnerErrorMarksFailed(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.Register(model.TaskTypeScan, func(tc *TaskContext) error {
		return errors.New("磁盘不可读")
	})

	task, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	o.Wait()

	got, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMsg, "磁盘不可读")
}

func TestRunnerPanicMarksFailed(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.Register(model.TaskTypeScan, func(tc *TaskContext) error {
		panic("意外状况")
	})

	task, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	o.Wait()

	got, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMsg, "panic")
}

func TestCancelObservedAtCheckpoint(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	started := make(chan struct{})
	o.Register(model.TaskTypeScan, func(tc *TaskContext) error {
		close(started)
		deadline := time.After(10 * time.Second)
		for !tc.Cancelled() {
			select {
			case <-deadline:
				return errors.New("等取消超时")
			case <-time.After(20 * time.Millisecond):
			}
		}
		return nil
	})

	task, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	<-started

	cancelled, err := o.Cancel(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, cancelled.Status)

	o.Wait()

	got, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, got.Status)
	assert.NotNil(t, got.FinishedAt)
}

func TestCancelNotOverwrittenByCompletion(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.Pipeline.ChainProcess = true

	// 工作函数从不经过取消检查点，正常返回前任务已被外部取消
	started := make(chan struct{})
	block := make(chan struct{})
	o.Register(model.TaskTypeScan, func(tc *TaskContext) error {
		close(started)
		<-block
		return nil
	})
	o.Register(model.TaskTypeProcessMedia, func(tc *TaskContext) error {
		t.Error("被取消的任务不应触发任务链")
		return nil
	})

	task, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	<-started

	require.Eventually(t, func() bool {
		got, err := o.Get(task.ID)
		return err == nil && got.Status == model.TaskStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	cancelled, err := o.Cancel(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, cancelled.Status)

	close(block)
	o.Wait()

	// 终态一经写入不得覆盖
	got, err := o.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, got.Status)
}

func TestCancelTerminalTaskRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.Register(model.TaskTypeScan, func(tc *TaskContext) error { return nil })
	task, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	o.Wait()

	_, err = o.Cancel(task.ID)
	assert.ErrorIs(t, err, ErrInvalidTaskState)
}

func TestCancelUnknownTask(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Cancel("no-such-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestProgressSnapshotLifecycle(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	reported := make(chan struct{})
	block := make(chan struct{})
	o.Register(model.TaskTypeScan, func(tc *TaskContext) error {
		tc.SetStep("第一阶段")
		tc.SetItem("/photos/a.jpg")
		close(reported)
		<-block
		return nil
	})

	task, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	<-reported

	p := o.Progress(task.ID)
	require.NotNil(t, p)
	assert.Equal(t, "第一阶段", p.CurrentStep)
	assert.Equal(t, "/photos/a.jpg", p.CurrentItem)

	close(block)
	o.Wait()

	// 终结后进度条目被清掉
	assert.Nil(t, o.Progress(task.ID))
}

func TestChainScanToProcess(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.cfg.Pipeline.ChainProcess = true

	o.Register(model.TaskTypeScan, func(tc *TaskContext) error { return nil })
	processRan := make(chan struct{})
	o.Register(model.TaskTypeProcessMedia, func(tc *TaskContext) error {
		close(processRan)
		return nil
	})

	_, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)

	select {
	case <-processRan:
	case <-time.After(3 * time.Second):
		t.Fatal("扫描完成后应串联媒体处理任务")
	}
	o.Wait()
}

func TestChainSkippedOnFailure(t *testing.T) {
	o, db := newTestOrchestrator(t)
	o.cfg.Pipeline.ChainProcess = true

	o.Register(model.TaskTypeScan, func(tc *TaskContext) error {
		return errors.New("失败")
	})
	o.Register(model.TaskTypeProcessMedia, func(tc *TaskContext) error {
		t.Error("失败的任务不应触发任务链")
		return nil
	})

	_, err := o.Start(model.TaskTypeScan)
	require.NoError(t, err)
	o.Wait()

	var count int64
	require.NoError(t, db.Model(&model.ProcessingTask{}).
		Where("task_type = ?", model.TaskTypeProcessMedia).
		Count(&count).Error)
	assert.Zero(t, count)
}
