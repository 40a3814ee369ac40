package port

import "context"

// UserLocker 把同一用户的流水线执行串行化。
// 不同用户的流水线可以完全并行；同一用户的并发购买必须排队，
// 否则积分、返现总额与当前徽章会被并发改写。
type UserLocker interface {
	// Lock 获取 userID 的互斥锁并返回解锁函数。
	// 在 ctx 截止前拿不到锁时返回 domain.ErrLockNotAcquired。
	Lock(ctx context.Context, userID uint) (func(), error)
}
