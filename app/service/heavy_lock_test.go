package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeavyLockExclusive(t *testing.T) {
	lock := NewHeavyWriteLock(newTestLogger())

	release, ok := lock.TryAcquire()
	require.True(t, ok)

	_, ok = lock.TryAcquire()
	assert.False(t, ok)

	release()
	release2, ok := lock.TryAcquire()
	assert.True(t, ok)
	release2()
}

func TestAcquireWaitsForHolder(t *testing.T) {
	lock := NewHeavyWriteLock(newTestLogger())

	release, ok := lock.TryAcquire()
	require.True(t, ok)

	acquired := make(chan struct{})
	go func() {
		r, ok := lock.Acquire(context.Background(), "test", nil)
		assert.True(t, ok)
		r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("锁被持有时不应获取成功")
	case <-time.After(100 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("释放后等待者应获得锁")
	}
}

func TestAcquireAbortsOnCancelPredicate(t *testing.T) {
	lock := NewHeavyWriteLock(newTestLogger())

	release, ok := lock.TryAcquire()
	require.True(t, ok)
	defer release()

	done := make(chan bool, 1)
	go func() {
		_, ok := lock.Acquire(context.Background(), "test", func() bool { return true })
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("取消条件成立时等待应在一个轮询周期内放弃")
	}
}

func TestAcquireAbortsOnContextDone(t *testing.T) {
	lock := NewHeavyWriteLock(newTestLogger())

	release, ok := lock.TryAcquire()
	require.True(t, ok)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := lock.Acquire(ctx, "test", nil)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("context 取消后等待应立即放弃")
	}
}
