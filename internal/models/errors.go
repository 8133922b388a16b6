package models

import "errors"

// 分配错误分类
var (
	// ErrUnknownResource 区域或资源类型未配置（调用方/配置错误，不重试）
	ErrUnknownResource = errors.New("unknown resource")
	// ErrUnresolvedRegion 请求没有位置且未配置默认区域
	ErrUnresolvedRegion = errors.New("unresolved region")
	// ErrAllocationTimeout 库存锁竞争重试耗尽（可重试）
	ErrAllocationTimeout = errors.New("allocation timeout")
	// ErrAlreadyReleased 事件已释放，不能再次分配或释放
	ErrAlreadyReleased = errors.New("incident already released")
	// ErrIncidentNotFound 释放一个从未分配过的事件
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrInvalidRequest 请求字段非法
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientCapacity 减少容量时超过可用量
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	// ErrLockContention 单次获取库存锁超时（内部瞬时错误，由引擎重试）
	ErrLockContention = errors.New("inventory lock contention")
)

// IsRetryable 调用方是否可以重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAllocationTimeout)
}
