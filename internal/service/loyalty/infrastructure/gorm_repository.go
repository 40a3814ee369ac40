package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"loyalty/internal/service/loyalty/domain"
)

// NewDB 打开 MySQL 连接。
func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mysql")
	}
	return db, nil
}

// GormStore 是 domain.Store 的 GORM 实现。
// Transaction 返回的 Store 绑定同一个 *gorm.DB 事务句柄。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Users() domain.UserRepository {
	return &gormUserRepository{db: s.db}
}

func (s *GormStore) Achievements() domain.AchievementRepository {
	return &gormAchievementRepository{db: s.db}
}

func (s *GormStore) Badges() domain.BadgeRepository {
	return &gormBadgeRepository{db: s.db}
}

func (s *GormStore) Purchases() domain.PurchaseRepository {
	return &gormPurchaseRepository{db: s.db}
}

func (s *GormStore) Cashbacks() domain.CashbackRepository {
	return &gormCashbackRepository{db: s.db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx domain.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// --- User ---

type gormUserRepository struct {
	db *gorm.DB
}

func (r *gormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to find user")
	}
	return ToDomainUser(&model), nil
}

func (r *gormUserRepository) Save(ctx context.Context, user *domain.User) error {
	// 只回写流水线会改动的累计字段，身份信息不在本服务的写路径上
	updateData := map[string]interface{}{
		"total_points":     user.TotalPoints,
		"total_cashback":   user.TotalCashback,
		"current_badge_id": user.CurrentBadgeID,
	}
	err := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", user.ID).Updates(updateData).Error
	return errors.Wrap(err, "failed to save user")
}

// --- Achievement ---

type gormAchievementRepository struct {
	db *gorm.DB
}

func (r *gormAchievementRepository) ListActive(ctx context.Context) ([]*domain.Achievement, error) {
	var models []AchievementModel
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id asc").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active achievements")
	}
	result := make([]*domain.Achievement, 0, len(models))
	for i := range models {
		result = append(result, ToDomainAchievement(&models[i]))
	}
	return result, nil
}

func (r *gormAchievementRepository) ListActiveNotUnlocked(ctx context.Context, userID uint) ([]*domain.Achievement, error) {
	unlocked := r.db.Model(&UserAchievementModel{}).
		Select("achievement_id").
		Where("user_id = ? AND unlocked_at IS NOT NULL", userID)

	var models []AchievementModel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("id NOT IN (?)", unlocked).
		Order("id asc").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list candidate achievements")
	}
	result := make([]*domain.Achievement, 0, len(models))
	for i := range models {
		result = append(result, ToDomainAchievement(&models[i]))
	}
	return result, nil
}

func (r *gormAchievementRepository) GetProgress(ctx context.Context, userID, achievementID uint) (*domain.UserAchievement, error) {
	var model UserAchievementModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND achievement_id = ?", userID, achievementID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get achievement progress")
	}
	return ToDomainUserAchievement(&model), nil
}

func (r *gormAchievementRepository) SaveProgress(ctx context.Context, progress *domain.UserAchievement) error {
	model := UserAchievementModel{
		UserID:        progress.UserID,
		AchievementID: progress.AchievementID,
		Progress:      progress.Progress,
		UnlockedAt:    progress.UnlockedAt,
	}
	// (user_id, achievement_id) 冲突时按 upsert 更新进度行
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"progress", "unlocked_at", "updated_at"}),
	}).Create(&model).Error
	return errors.Wrap(err, "failed to save achievement progress")
}

func (r *gormAchievementRepository) ListProgress(ctx context.Context, userID uint) ([]*domain.UserAchievement, error) {
	var models []UserAchievementModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list achievement progress")
	}
	result := make([]*domain.UserAchievement, 0, len(models))
	for i := range models {
		result = append(result, ToDomainUserAchievement(&models[i]))
	}
	return result, nil
}

func (r *gormAchievementRepository) ListRecentUnlocks(ctx context.Context, userID uint, limit int) ([]*domain.UserAchievement, error) {
	var models []UserAchievementModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND unlocked_at IS NOT NULL", userID).
		Order("unlocked_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent unlocks")
	}
	result := make([]*domain.UserAchievement, 0, len(models))
	for i := range models {
		result = append(result, ToDomainUserAchievement(&models[i]))
	}
	return result, nil
}

func (r *gormAchievementRepository) SumUnlockedPoints(ctx context.Context, userID uint) (int, error) {
	var total int
	err := r.db.WithContext(ctx).Model(&UserAchievementModel{}).
		Joins("JOIN achievement ON achievement.id = user_achievement.achievement_id").
		Where("user_achievement.user_id = ? AND user_achievement.unlocked_at IS NOT NULL", userID).
		Select("COALESCE(SUM(achievement.points), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum unlocked points")
	}
	return total, nil
}

func (r *gormAchievementRepository) CountUnlocked(ctx context.Context, userID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserAchievementModel{}).
		Where("user_id = ? AND unlocked_at IS NOT NULL", userID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count unlocked achievements")
	}
	return int(count), nil
}

// --- Badge ---

type gormBadgeRepository struct {
	db *gorm.DB
}

func (r *gormBadgeRepository) FindByID(ctx context.Context, id uint) (*domain.Badge, error) {
	var model BadgeModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBadgeNotFound
		}
		return nil, errors.Wrap(err, "failed to find badge")
	}
	return ToDomainBadge(&model), nil
}

func (r *gormBadgeRepository) ListActive(ctx context.Context) ([]*domain.Badge, error) {
	var models []BadgeModel
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("level asc").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active badges")
	}
	result := make([]*domain.Badge, 0, len(models))
	for i := range models {
		result = append(result, ToDomainBadge(&models[i]))
	}
	return result, nil
}

func (r *gormBadgeRepository) ListActiveNotEarned(ctx context.Context, userID uint) ([]*domain.Badge, error) {
	earned := r.db.Model(&UserBadgeModel{}).
		Select("badge_id").
		Where("user_id = ?", userID)

	var models []BadgeModel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("id NOT IN (?)", earned).
		Order("level asc").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list candidate badges")
	}
	result := make([]*domain.Badge, 0, len(models))
	for i := range models {
		result = append(result, ToDomainBadge(&models[i]))
	}
	return result, nil
}

func (r *gormBadgeRepository) NextAbove(ctx context.Context, level int) (*domain.Badge, error) {
	var model BadgeModel
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND level > ?", true, level).
		Order("level asc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find next badge")
	}
	return ToDomainBadge(&model), nil
}

func (r *gormBadgeRepository) Award(ctx context.Context, earned *domain.UserBadge) error {
	model := UserBadgeModel{
		UserID:    earned.UserID,
		BadgeID:   earned.BadgeID,
		EarnedAt:  earned.EarnedAt,
		IsCurrent: earned.IsCurrent,
	}
	// 重复授予直接忽略，EarnedAt 只写一次
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_id"}},
		DoNothing: true,
	}).Create(&model).Error
	return errors.Wrap(err, "failed to award badge")
}

func (r *gormBadgeRepository) SetCurrent(ctx context.Context, userID, badgeID uint) error {
	err := r.db.WithContext(ctx).Model(&UserBadgeModel{}).
		Where("user_id = ? AND is_current = ?", userID, true).
		Update("is_current", false).Error
	if err != nil {
		return errors.Wrap(err, "failed to clear current badge")
	}
	err = r.db.WithContext(ctx).Model(&UserBadgeModel{}).
		Where("user_id = ? AND badge_id = ?", userID, badgeID).
		Update("is_current", true).Error
	return errors.Wrap(err, "failed to set current badge")
}

func (r *gormBadgeRepository) ListEarned(ctx context.Context, userID uint) ([]*domain.UserBadge, error) {
	var models []UserBadgeModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("earned_at desc").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list earned badges")
	}
	result := make([]*domain.UserBadge, 0, len(models))
	for i := range models {
		result = append(result, ToDomainUserBadge(&models[i]))
	}
	return result, nil
}

// --- Purchase ---

type gormPurchaseRepository struct {
	db *gorm.DB
}

func (r *gormPurchaseRepository) FindByID(ctx context.Context, id uint) (*domain.Purchase, error) {
	var model PurchaseModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPurchaseNotFound
		}
		return nil, errors.Wrap(err, "failed to find purchase")
	}
	return ToDomainPurchase(&model), nil
}

func (r *gormPurchaseRepository) CountCompleted(ctx context.Context, userID uint, excludeID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&PurchaseModel{}).
		Where("user_id = ? AND status = ? AND id <> ?", userID, string(domain.PurchaseStatusCompleted), excludeID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count completed purchases")
	}
	return int(count), nil
}

func (r *gormPurchaseRepository) SumCompletedAmount(ctx context.Context, userID uint, excludeID uint) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&PurchaseModel{}).
		Where("user_id = ? AND status = ? AND id <> ?", userID, string(domain.PurchaseStatusCompleted), excludeID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum completed purchase amount")
	}
	return total, nil
}

func (r *gormPurchaseRepository) MarkProcessed(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&PurchaseModel{}).
		Where("id = ?", id).
		Update("processed_for_loyalty", true).Error
	return errors.Wrap(err, "failed to mark purchase processed")
}

// --- Cashback ---

type gormCashbackRepository struct {
	db *gorm.DB
}

func (r *gormCashbackRepository) Create(ctx context.Context, txn *domain.CashbackTransaction) error {
	model := FromDomainCashbackTransaction(txn)
	model.ID = 0
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "failed to create cashback transaction")
	}
	txn.ID = model.ID
	txn.CreatedAt = model.CreatedAt
	return nil
}

func (r *gormCashbackRepository) Update(ctx context.Context, txn *domain.CashbackTransaction) error {
	model := FromDomainCashbackTransaction(txn)
	err := r.db.WithContext(ctx).Model(&CashbackTransactionModel{}).
		Where("id = ?", txn.ID).
		Updates(map[string]interface{}{
			"status":        model.Status,
			"reference":     model.Reference,
			"raw_response":  model.RawResponse,
			"error_message": model.ErrorMessage,
			"retry_count":   model.RetryCount,
			"processed_at":  model.ProcessedAt,
		}).Error
	return errors.Wrap(err, "failed to update cashback transaction")
}

func (r *gormCashbackRepository) FindByID(ctx context.Context, id uint) (*domain.CashbackTransaction, error) {
	var model CashbackTransactionModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, errors.Wrap(err, "failed to find cashback transaction")
	}
	return ToDomainCashbackTransaction(&model), nil
}

func (r *gormCashbackRepository) FindByPurchase(ctx context.Context, purchaseID uint) (*domain.CashbackTransaction, error) {
	var model CashbackTransactionModel
	err := r.db.WithContext(ctx).Where("purchase_id = ?", purchaseID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find cashback transaction by purchase")
	}
	return ToDomainCashbackTransaction(&model), nil
}

func (r *gormCashbackRepository) ListRecent(ctx context.Context, userID uint, limit int) ([]*domain.CashbackTransaction, error) {
	var models []CashbackTransactionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent cashback transactions")
	}
	result := make([]*domain.CashbackTransaction, 0, len(models))
	for i := range models {
		result = append(result, ToDomainCashbackTransaction(&models[i]))
	}
	return result, nil
}

func (r *gormCashbackRepository) SumAmountByStatus(ctx context.Context, userID uint, status domain.CashbackStatus) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&CashbackTransactionModel{}).
		Where("user_id = ? AND status = ?", userID, string(status)).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum cashback amount")
	}
	return total, nil
}

func (r *gormCashbackRepository) CountByUser(ctx context.Context, userID uint) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CashbackTransactionModel{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cashback transactions")
	}
	return int(count), nil
}

func (r *gormCashbackRepository) ListRetryable(ctx context.Context, before time.Time, maxRetries, limit int) ([]*domain.CashbackTransaction, error) {
	var models []CashbackTransactionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ? AND processed_at < ?", string(domain.CashbackStatusFailed), maxRetries, before).
		Order("processed_at asc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list retryable cashback transactions")
	}
	result := make([]*domain.CashbackTransaction, 0, len(models))
	for i := range models {
		result = append(result, ToDomainCashbackTransaction(&models[i]))
	}
	return result, nil
}
