package domain

import (
	"context"
	"time"
)

// 仓储接口定义在领域层，由基础设施层实现。
// 核心只要求后端具备原子的读-改-写与事务语义。

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*User, error)
	Save(ctx context.Context, user *User) error
}

type AchievementRepository interface {
	// ListActive 返回全部上架成就。
	ListActive(ctx context.Context) ([]*Achievement, error)

	// ListActiveNotUnlocked 返回该用户尚未解锁的上架成就。
	// 已解锁的成就被排除在后续所有评估批次之外。
	ListActiveNotUnlocked(ctx context.Context, userID uint) ([]*Achievement, error)

	// GetProgress 返回进度行，不存在时返回 (nil, nil)。
	GetProgress(ctx context.Context, userID, achievementID uint) (*UserAchievement, error)

	// SaveProgress 写入进度行(upsert)。(user, achievement) 上有唯一约束。
	SaveProgress(ctx context.Context, progress *UserAchievement) error

	// ListProgress 返回该用户的全部进度行。
	ListProgress(ctx context.Context, userID uint) ([]*UserAchievement, error)

	// ListRecentUnlocks 按解锁时间倒序返回最近解锁的进度行。
	ListRecentUnlocks(ctx context.Context, userID uint, limit int) ([]*UserAchievement, error)

	// SumUnlockedPoints 汇总该用户所有已解锁成就的积分。
	SumUnlockedPoints(ctx context.Context, userID uint) (int, error)

	// CountUnlocked 统计该用户已解锁的成就数。
	CountUnlocked(ctx context.Context, userID uint) (int, error)
}

type BadgeRepository interface {
	FindByID(ctx context.Context, id uint) (*Badge, error)

	// ListActive 返回全部上架徽章，按等级升序。
	ListActive(ctx context.Context) ([]*Badge, error)

	// ListActiveNotEarned 返回该用户尚未获得的上架徽章，按等级升序。
	ListActiveNotEarned(ctx context.Context, userID uint) ([]*Badge, error)

	// NextAbove 返回等级高于 level 的最低上架徽章，没有时返回 (nil, nil)。
	NextAbove(ctx context.Context, level int) (*Badge, error)

	// Award 写入一条获得记录。EarnedAt 只写一次。
	Award(ctx context.Context, earned *UserBadge) error

	// SetCurrent 先清掉该用户所有 is_current 标记，再把 badgeID 置为当前。
	// 保证任意时刻至多一行 is_current = true。
	SetCurrent(ctx context.Context, userID, badgeID uint) error

	// ListEarned 按获得时间倒序返回该用户的全部获得记录。
	ListEarned(ctx context.Context, userID uint) ([]*UserBadge, error)
}

type PurchaseRepository interface {
	FindByID(ctx context.Context, id uint) (*Purchase, error)

	// CountCompleted 统计该用户已完成的购买数，不含 excludeID 指定的那一笔。
	// 首次推导历史进度时要排除触发流水线的这次购买，否则它会被计入两次。
	CountCompleted(ctx context.Context, userID uint, excludeID uint) (int, error)

	// SumCompletedAmount 汇总已完成购买的金额，同样不含 excludeID。
	SumCompletedAmount(ctx context.Context, userID uint, excludeID uint) (float64, error)

	// MarkProcessed 把 processed_for_loyalty 翻转为 true。单向，不可逆。
	MarkProcessed(ctx context.Context, id uint) error
}

type CashbackRepository interface {
	Create(ctx context.Context, txn *CashbackTransaction) error
	Update(ctx context.Context, txn *CashbackTransaction) error
	FindByID(ctx context.Context, id uint) (*CashbackTransaction, error)

	// FindByPurchase 返回该购买对应的交易，不存在时返回 (nil, nil)。
	// 这是流水线重入时的幂等查询。
	FindByPurchase(ctx context.Context, purchaseID uint) (*CashbackTransaction, error)

	// ListRecent 按创建时间倒序返回该用户最近的交易。
	ListRecent(ctx context.Context, userID uint, limit int) ([]*CashbackTransaction, error)

	// SumAmountByStatus 汇总该用户处于指定状态的交易金额。
	SumAmountByStatus(ctx context.Context, userID uint, status CashbackStatus) (float64, error)

	// CountByUser 统计该用户的交易总数。
	CountByUser(ctx context.Context, userID uint) (int, error)

	// ListRetryable 返回可以重试的失败交易:
	// 状态为 failed、重试次数未达上限、上次处理时间早于 before。
	ListRetryable(ctx context.Context, before time.Time, maxRetries, limit int) ([]*CashbackTransaction, error)
}

// Store 聚合各仓储并提供事务边界。
// Transaction 内拿到的 Store 绑定同一个数据库事务，fn 返回错误则整体回滚。
type Store interface {
	Users() UserRepository
	Achievements() AchievementRepository
	Badges() BadgeRepository
	Purchases() PurchaseRepository
	Cashbacks() CashbackRepository

	Transaction(ctx context.Context, fn func(tx Store) error) error
}
