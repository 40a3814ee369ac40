package adapter

import (
	"context"
	"fmt"

	"loyalty/internal/pkg/logger"
	"loyalty/internal/pkg/zookeeper"
	"loyalty/internal/service/loyalty/domain"
)

// UserLockZookeeperAdapter 是 port.UserLocker 的 ZooKeeper 实现。
// 基于临时顺序节点排队，进程崩溃时锁随会话消失，没有过期时间可调。
type UserLockZookeeperAdapter struct {
	conn *zookeeper.Conn
}

func NewUserLockZookeeperAdapter(conn *zookeeper.Conn) *UserLockZookeeperAdapter {
	return &UserLockZookeeperAdapter{conn: conn}
}

// Lock 获取 userID 的互斥锁，在 ctx 截止前拿不到时返回 ErrLockNotAcquired。
func (a *UserLockZookeeperAdapter) Lock(ctx context.Context, userID uint) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(a.conn, fmt.Sprintf("user-%d", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to create user lock: %w", err)
	}

	if err := lock.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, domain.ErrLockNotAcquired
		}
		return nil, fmt.Errorf("failed to acquire user lock: %w", err)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(context.Background()).Error().Err(err).Uint("userId", userID).Msg("failed to release user lock")
		}
	}, nil
}
