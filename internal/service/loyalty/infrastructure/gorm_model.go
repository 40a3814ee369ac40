package infrastructure

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserModel 对应数据库中的 loyalty_user 表
type UserModel struct {
	gorm.Model
	Email          string `gorm:"size:191;uniqueIndex"`
	Name           string
	TotalPoints    int
	TotalCashback  float64 `gorm:"type:decimal(12,2)"`
	CurrentBadgeID *uint
	BankAccount    string `gorm:"size:32"`
	BankCode       string `gorm:"size:16"`
}

func (UserModel) TableName() string {
	return "loyalty_user"
}

// AchievementModel 对应数据库中的 achievement 表
type AchievementModel struct {
	gorm.Model
	Name        string
	Description string
	Type        string         `gorm:"size:32"`
	Criteria    datatypes.JSON // 达成条件，JSON 形式存储
	Points      int
	Tier        string `gorm:"size:16"`
	Icon        string
	IsActive    bool `gorm:"index"`
}

func (AchievementModel) TableName() string {
	return "achievement"
}

// UserAchievementModel 对应数据库中的 user_achievement 表。
// (user_id, achievement_id) 上的唯一索引保证每对只有一行进度。
type UserAchievementModel struct {
	gorm.Model
	UserID        uint    `gorm:"uniqueIndex:uk_user_achievement"`
	AchievementID uint    `gorm:"uniqueIndex:uk_user_achievement"`
	Progress      float64 `gorm:"type:decimal(12,2)"`
	UnlockedAt    *time.Time
}

func (UserAchievementModel) TableName() string {
	return "user_achievement"
}

// BadgeModel 对应数据库中的 badge 表
type BadgeModel struct {
	gorm.Model
	Name                 string
	Description          string
	Level                int `gorm:"uniqueIndex"`
	PointsRequired       int
	AchievementsRequired int
	Icon                 string
	Color                string `gorm:"size:16"`
	IsActive             bool   `gorm:"index"`
}

func (BadgeModel) TableName() string {
	return "badge"
}

// UserBadgeModel 对应数据库中的 user_badge 表
type UserBadgeModel struct {
	gorm.Model
	UserID    uint `gorm:"uniqueIndex:uk_user_badge"`
	BadgeID   uint `gorm:"uniqueIndex:uk_user_badge"`
	EarnedAt  time.Time
	IsCurrent bool
}

func (UserBadgeModel) TableName() string {
	return "user_badge"
}

// PurchaseModel 对应数据库中的 purchase 表
type PurchaseModel struct {
	gorm.Model
	UserID              uint    `gorm:"index"`
	OrderID             string  `gorm:"size:64;uniqueIndex"`
	Amount              float64 `gorm:"type:decimal(12,2)"`
	Currency            string  `gorm:"size:8"`
	Status              string  `gorm:"size:16;index"`
	ProcessedForLoyalty bool
}

func (PurchaseModel) TableName() string {
	return "purchase"
}

// CashbackTransactionModel 对应数据库中的 cashback_transaction 表。
// purchase_id 上的唯一索引是流水线重入时的数据库级幂等保护。
type CashbackTransactionModel struct {
	gorm.Model
	UserID       uint    `gorm:"index"`
	PurchaseID   *uint   `gorm:"uniqueIndex"`
	Amount       float64 `gorm:"type:decimal(12,2)"`
	Currency     string  `gorm:"size:8"`
	Status       string  `gorm:"size:16;index"`
	Provider     string  `gorm:"size:32"`
	Reference    string  `gorm:"size:64"`
	RawResponse  datatypes.JSON
	ErrorMessage string `gorm:"type:text"`
	RetryCount   int
	ProcessedAt  *time.Time `gorm:"index"`
}

func (CashbackTransactionModel) TableName() string {
	return "cashback_transaction"
}

// AutoMigrate 建表。开发与演示环境使用，生产环境应由独立的迁移流程管理。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&AchievementModel{},
		&UserAchievementModel{},
		&BadgeModel{},
		&UserBadgeModel{},
		&PurchaseModel{},
		&CashbackTransactionModel{},
	)
}
