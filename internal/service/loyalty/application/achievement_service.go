package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyalty/internal/pkg/logger"
	"loyalty/internal/service/loyalty/domain"
	"loyalty/internal/service/loyalty/domain/port"
)

// AchievementService 是成就评估器。
// 对一次已完成的购买，推进该用户所有未解锁成就的进度并决定解锁。
type AchievementService struct {
	store    domain.Store
	notifier port.NotificationProducer
	tracer   trace.Tracer
}

func NewAchievementService(store domain.Store, notifier port.NotificationProducer, tracer trace.Tracer) *AchievementService {
	return &AchievementService{store: store, notifier: notifier, tracer: tracer}
}

// ProcessPurchase 在单个事务内评估该购买对所有未解锁成就的影响，
// 返回本次新解锁的成就。任一成就更新失败则整批回滚并把错误抛给调用方，
// 不允许出现"半批解锁"。
func (s *AchievementService) ProcessPurchase(ctx context.Context, purchase *domain.Purchase) ([]*domain.Achievement, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.ProcessPurchaseForAchievements")
	defer span.End()
	span.SetAttributes(
		attribute.Int("purchase.id", int(purchase.ID)),
		attribute.Int("user.id", int(purchase.UserID)),
	)

	var (
		user     *domain.User
		unlocked []*domain.Achievement
	)
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		var err error
		user, err = tx.Users().FindByID(ctx, purchase.UserID)
		if err != nil {
			return err
		}

		achievements, err := tx.Achievements().ListActiveNotUnlocked(ctx, user.ID)
		if err != nil {
			return err
		}

		for _, achievement := range achievements {
			justUnlocked, err := s.advance(ctx, tx, user, achievement, purchase)
			if err != nil {
				return err
			}
			if justUnlocked {
				unlocked = append(unlocked, achievement)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "achievement batch failed")
		logger.Ctx(ctx).Error().Err(err).
			Uint("purchaseId", purchase.ID).
			Uint("userId", purchase.UserID).
			Msg("failed to process achievements for purchase")
		return nil, err
	}

	// 通知在事务提交之后发出，投递延迟和失败都不影响成功路径。
	for _, achievement := range unlocked {
		if err := s.notifier.Publish(ctx, domain.NewAchievementUnlockedEvent(user, achievement)); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Uint("achievementId", achievement.ID).
				Msg("failed to publish achievement-unlocked notification")
		}
	}

	span.SetAttributes(attribute.Int("achievements.unlocked", len(unlocked)))
	return unlocked, nil
}

// advance 推进单个成就的进度并在达标时解锁。
func (s *AchievementService) advance(ctx context.Context, tx domain.Store, user *domain.User, achievement *domain.Achievement, purchase *domain.Purchase) (bool, error) {
	progress, err := tx.Achievements().GetProgress(ctx, user.ID, achievement.ID)
	if err != nil {
		return false, err
	}
	if progress == nil {
		// 进度行懒创建: 首次评估时从历史数据推导起点。
		seed, err := s.seedProgress(ctx, tx, achievement, purchase)
		if err != nil {
			return false, err
		}
		progress = &domain.UserAchievement{
			UserID:        user.ID,
			AchievementID: achievement.ID,
			Progress:      seed,
		}
	}
	if progress.Unlocked() {
		return false, nil
	}

	progress.Advance(progress.Progress + achievement.ProgressDelta(purchase))
	progress.UpdatedAt = time.Now()

	// 进度无条件落库: 没达标的部分进度也要跨购买保留。
	if err := tx.Achievements().SaveProgress(ctx, progress); err != nil {
		return false, err
	}

	if !achievement.TargetMet(progress.Progress) {
		return false, nil
	}
	return true, s.unlock(ctx, tx, user, achievement, progress)
}

// seedProgress 从历史数据推导初始进度。
// 触发流水线的这次购买被排除，它的贡献由本次增量体现。
func (s *AchievementService) seedProgress(ctx context.Context, tx domain.Store, achievement *domain.Achievement, purchase *domain.Purchase) (float64, error) {
	switch achievement.Type {
	case domain.AchievementTypePurchaseCount:
		count, err := tx.Purchases().CountCompleted(ctx, purchase.UserID, purchase.ID)
		return float64(count), err
	case domain.AchievementTypeSpendingTotal:
		return tx.Purchases().SumCompletedAmount(ctx, purchase.UserID, purchase.ID)
	case domain.AchievementTypeReferral, domain.AchievementTypeReview, domain.AchievementTypeStreak:
		// 推荐/评价/连续活跃由外部系统推动，这里不建模它们的历史。
		return 0, nil
	}
	return 0, nil
}

// unlock 写入解锁时间并全量重算用户总积分。
// 重算而不是累加，使同一成就在重放时天然幂等: 每个成就至多计入一次。
func (s *AchievementService) unlock(ctx context.Context, tx domain.Store, user *domain.User, achievement *domain.Achievement, progress *domain.UserAchievement) error {
	now := time.Now()
	progress.UnlockedAt = &now
	if err := tx.Achievements().SaveProgress(ctx, progress); err != nil {
		return err
	}

	points, err := tx.Achievements().SumUnlockedPoints(ctx, user.ID)
	if err != nil {
		return err
	}
	user.TotalPoints = points
	if err := tx.Users().Save(ctx, user); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Uint("userId", user.ID).
		Uint("achievementId", achievement.ID).
		Str("achievement", achievement.Name).
		Int("points", achievement.Points).
		Msg("achievement unlocked")
	return nil
}
