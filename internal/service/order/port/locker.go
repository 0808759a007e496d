package port

import "context"

// Locker 按资源 key 串行化对同一订单的修改。
type Locker interface {
	// Lock 阻塞直到获得锁或 ctx 结束，返回的 unlock 必须调用。
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
