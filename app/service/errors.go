package service

import "errors"

var (
	// ErrBusy 任务系统暂时不可用（数据库查不动），提示调用方稍后再试
	ErrBusy = errors.New("任务系统繁忙，请稍后再试")
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("任务不存在")
	// ErrInvalidTaskState 任务状态不允许该操作
	ErrInvalidTaskState = errors.New("任务当前状态不允许该操作")
	// ErrInvalidTaskType 未知的任务类型
	ErrInvalidTaskType = errors.New("未知的任务类型")

	// errCancelled 任务内部使用：协作取消被观察到，终态为 cancelled 而不是 failed
	errCancelled = errors.New("任务已被取消")
)
