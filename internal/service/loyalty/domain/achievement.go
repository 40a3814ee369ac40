package domain

import "time"

// AchievementType 定义了成就的进度语义。
// 这里使用封闭枚举 + 穷举 switch，新增类型时由编译器保证所有分支都被处理，
// 而不是在运行时做字符串比较。
type AchievementType string

const (
	AchievementTypePurchaseCount AchievementType = "purchase_count" // 累计完成购买次数
	AchievementTypeSpendingTotal AchievementType = "spending_total" // 累计消费金额
	AchievementTypeReferral      AchievementType = "referral"       // 推荐注册，由外部系统推动
	AchievementTypeReview        AchievementType = "review"         // 商品评价，由外部系统推动
	AchievementTypeStreak        AchievementType = "streak"         // 连续活跃，需要单独的打卡追踪
)

// AchievementTier 仅用于展示层分级，不参与任何判定逻辑。
type AchievementTier string

const (
	TierBronze   AchievementTier = "bronze"
	TierSilver   AchievementTier = "silver"
	TierGold     AchievementTier = "gold"
	TierPlatinum AchievementTier = "platinum"
)

// Criteria 是成就的达成条件，至少包含一个目标值。
type Criteria struct {
	Target float64 `json:"target"`
}

// Achievement 是目录实体，上线后不可变。
type Achievement struct {
	ID          uint
	Name        string
	Description string
	Type        AchievementType
	Criteria    Criteria
	Points      int
	Tier        AchievementTier
	Icon        string
	IsActive    bool
}

// ProgressDelta 计算一次已完成购买对该成就的进度增量。
// 购买事件只推动购买次数与消费金额两类，其余类型不受影响。
func (a *Achievement) ProgressDelta(p *Purchase) float64 {
	switch a.Type {
	case AchievementTypePurchaseCount:
		return 1
	case AchievementTypeSpendingTotal:
		return p.Amount
	case AchievementTypeReferral, AchievementTypeReview, AchievementTypeStreak:
		return 0
	}
	return 0
}

// TargetMet 判断进度是否达标。
// Target <= 0 在首次评估时即视为达成，避免靠增量永远无法满足的死目标。
func (a *Achievement) TargetMet(progress float64) bool {
	if a.Criteria.Target <= 0 {
		return true
	}
	return progress >= a.Criteria.Target
}

// UserAchievement 是 (user, achievement) 的进度行，按需懒创建，一对只有一行。
// 不变式: Progress 单调不减；UnlockedAt 一旦写入永不清除。
type UserAchievement struct {
	UserID        uint
	AchievementID uint
	Progress      float64
	UnlockedAt    *time.Time
	UpdatedAt     time.Time
}

// Unlocked 表示该成就对用户已处于终态。
func (ua *UserAchievement) Unlocked() bool {
	return ua.UnlockedAt != nil
}

// Advance 把进度推进到 newProgress，但绝不回退。
func (ua *UserAchievement) Advance(newProgress float64) {
	if newProgress > ua.Progress {
		ua.Progress = newProgress
	}
}
