package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 徽章等级。等级严格递增且唯一，0 表示"无徽章"。
const (
	BadgeLevelNone     = 0
	BadgeLevelBronze   = 1
	BadgeLevelSilver   = 2
	BadgeLevelGold     = 3
	BadgeLevelPlatinum = 4
	BadgeLevelDiamond  = 5
)

// Badge 是按等级排序的目录实体，上线后不可变。
type Badge struct {
	ID                   uint
	Name                 string
	Description          string
	Level                int
	PointsRequired       int
	AchievementsRequired int
	Icon                 string
	Color                string
	IsActive             bool
}

// MeetsRequirements 判断用户是否满足该徽章的门槛。
// 积分与成就数两个条件必须同时满足；要求为零的条件天然成立。
func (b *Badge) MeetsRequirements(totalPoints int, achievementCount int) bool {
	return totalPoints >= b.PointsRequired && achievementCount >= b.AchievementsRequired
}

// CashbackBonusRate 由徽章等级推导现金返还加成费率。
// 等级与费率的映射是设计约定: 5 级 +2%，4 级 +1.5%，3 级 +1%，2 级 +0.5%。
func CashbackBonusRate(level int) decimal.Decimal {
	switch level {
	case BadgeLevelDiamond:
		return decimal.NewFromFloat(0.02)
	case BadgeLevelPlatinum:
		return decimal.NewFromFloat(0.015)
	case BadgeLevelGold:
		return decimal.NewFromFloat(0.01)
	case BadgeLevelSilver:
		return decimal.NewFromFloat(0.005)
	default:
		return decimal.Zero
	}
}

// UserBadge 是 (user, badge) 的获得记录。
// 不变式: EarnedAt 只写一次；任意时刻每个用户至多一行 IsCurrent = true，
// 且它必须是该用户已获得的最高等级徽章。
type UserBadge struct {
	UserID    uint
	BadgeID   uint
	EarnedAt  time.Time
	IsCurrent bool
}
