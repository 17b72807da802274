package service

import (
	"context"
	"time"

	"photo-fusion/app/logger"
)

const (
	// 等待锁时检查取消的间隔
	lockPollInterval = 500 * time.Millisecond
	// 等待锁时打印进度日志的间隔
	lockLogInterval = 10 * time.Second
)

// HeavyWriteLock 全进程唯一的重写锁。
// SQLite 同一时间只容得下一个持续写入者，所有批量写任务
// 不分类型都必须先拿到这把锁，等锁本身是可取消的正常状态而不是错误。
type HeavyWriteLock struct {
	sem chan struct{}
	log *logger.Logger
}

// NewHeavyWriteLock 创建重写锁
func NewHeavyWriteLock(log *logger.Logger) *HeavyWriteLock {
	return &HeavyWriteLock{
		sem: make(chan struct{}, 1),
		log: log,
	}
}

// Acquire 阻塞获取锁，每 500ms 检查一次取消条件。
// 取消先于获取发生时返回 (nil, false) 且没有任何副作用；
// 成功时返回释放函数，调用方必须 defer 调用，保证任何退出路径都释放。
func (l *HeavyWriteLock) Acquire(ctx context.Context, name string, cancelled func() bool) (func(), bool) {
	poll := time.NewTicker(lockPollInterval)
	defer poll.Stop()

	start := time.Now()
	lastLog := start

	for {
		select {
		case l.sem <- struct{}{}:
			if waited := time.Since(start); waited > lockPollInterval {
				l.log.Infof("🔒 %s 等待 %v 后获得重写锁", name, waited.Round(time.Millisecond))
			}
			return func() { <-l.sem }, true
		case <-ctx.Done():
			return nil, false
		case <-poll.C:
			if cancelled != nil && cancelled() {
				return nil, false
			}
			if time.Since(lastLog) >= lockLogInterval {
				lastLog = time.Now()
				l.log.Infof("%s 仍在等待重写锁（已等待 %v）", name, time.Since(start).Round(time.Second))
			}
		}
	}
}

// TryAcquire 非阻塞获取，拿不到立即返回 false
func (l *HeavyWriteLock) TryAcquire() (func(), bool) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, true
	default:
		return nil, false
	}
}
