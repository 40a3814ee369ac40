package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loyalty/internal/pkg/logger"
	"loyalty/internal/pkg/redis"
	"loyalty/internal/service/loyalty/domain"
)

const (
	unlockScriptName = "user_unlock"

	// 锁持有时间要盖过整条流水线的处理超时，否则锁会在持有期间过期
	defaultLockTTL = 3 * time.Minute

	lockRetryInterval = 100 * time.Millisecond
)

// UserLockRedisAdapter 是 port.UserLocker 的 Redis 实现。
// SET NX PX 抢锁，Lua 脚本比对 token 后删除，避免释放掉别人的锁。
type UserLockRedisAdapter struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewUserLockRedisAdapter 创建用户锁适配器，并注册解锁脚本。
func NewUserLockRedisAdapter(redisClient *redis.Client) (*UserLockRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, fmt.Errorf("failed to load unlock script: %w", err)
	}
	return &UserLockRedisAdapter{
		redisClient: redisClient,
		ttl:         defaultLockTTL,
	}, nil
}

// Lock 轮询抢占 userID 的互斥锁，在 ctx 截止前拿不到时返回 ErrLockNotAcquired。
func (a *UserLockRedisAdapter) Lock(ctx context.Context, userID uint) (func(), error) {
	key := fmt.Sprintf("loyalty:userlock:{%d}", userID)
	token := uuid.NewString()

	for {
		ok, err := a.redisClient.GetClient().SetNX(ctx, key, token, a.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire user lock: %w", err)
		}
		if ok {
			return func() { a.unlock(key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, domain.ErrLockNotAcquired
		case <-time.After(lockRetryInterval):
		}
	}
}

// unlock 用独立的 context 释放锁，调用方的 ctx 此时可能已经超时。
func (a *UserLockRedisAdapter) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := a.redisClient.RunScript(ctx, unlockScriptName, []string{key}, token); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to release user lock")
	}
}

var unlockScript = `
-- KEYS[1]: 锁的 Key
-- ARGV[1]: 加锁时写入的 token

if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`
