package inventory

import "context"

// keyLock 单个 (region, resourceType) 的互斥锁
// 用容量为 1 的 channel 实现，获取时可被 ctx 取消/超时
type keyLock chan struct{}

func newKeyLock() keyLock {
	return make(keyLock, 1)
}

// acquire 获取锁；ctx 结束前未拿到锁则返回 ctx.Err()
func (l keyLock) acquire(ctx context.Context) error {
	// ctx 已结束时即使锁空闲也不获取
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lock 无限期等待
func (l keyLock) lock() {
	l <- struct{}{}
}

func (l keyLock) unlock() {
	<-l
}
