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

// BadgeService 是徽章评估器。
// 根据用户累计的成就积分与成就数授予新徽章，并维护"当前徽章"标记。
type BadgeService struct {
	store    domain.Store
	notifier port.NotificationProducer
	tracer   trace.Tracer
}

func NewBadgeService(store domain.Store, notifier port.NotificationProducer, tracer trace.Tracer) *BadgeService {
	return &BadgeService{store: store, notifier: notifier, tracer: tracer}
}

// EvaluateBadges 在单个事务内检查该用户所有未获得的徽章并授予满足条件的。
// 徽章按等级升序处理，所以最后一次晋升自然落在最高的新徽章上，
// 不需要额外扫一遍找最大值。
func (s *BadgeService) EvaluateBadges(ctx context.Context, user *domain.User) ([]*domain.Badge, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.EvaluateBadges")
	defer span.End()
	span.SetAttributes(attribute.Int("user.id", int(user.ID)))

	var awarded []*domain.Badge
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		candidates, err := tx.Badges().ListActiveNotEarned(ctx, user.ID)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		points, err := tx.Achievements().SumUnlockedPoints(ctx, user.ID)
		if err != nil {
			return err
		}
		count, err := tx.Achievements().CountUnlocked(ctx, user.ID)
		if err != nil {
			return err
		}

		var current *domain.Badge
		if user.CurrentBadgeID != nil {
			if current, err = tx.Badges().FindByID(ctx, *user.CurrentBadgeID); err != nil {
				return err
			}
		}

		for _, badge := range candidates {
			if !badge.MeetsRequirements(points, count) {
				continue
			}

			// 获得记录先以 is_current = false 写入，晋升是单独的一步。
			if err := tx.Badges().Award(ctx, &domain.UserBadge{
				UserID:   user.ID,
				BadgeID:  badge.ID,
				EarnedAt: time.Now(),
			}); err != nil {
				return err
			}

			if current == nil || badge.Level > current.Level {
				if err := tx.Badges().SetCurrent(ctx, user.ID, badge.ID); err != nil {
					return err
				}
				badgeID := badge.ID
				user.CurrentBadgeID = &badgeID
				if err := tx.Users().Save(ctx, user); err != nil {
					return err
				}
				current = badge
			}

			awarded = append(awarded, badge)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "badge evaluation failed")
		logger.Ctx(ctx).Error().Err(err).Uint("userId", user.ID).Msg("failed to check and award badges")
		return nil, err
	}

	for _, badge := range awarded {
		if err := s.notifier.Publish(ctx, domain.NewBadgeUnlockedEvent(user, badge)); err != nil {
			logger.Ctx(ctx).Error().Err(err).Uint("badgeId", badge.ID).Msg("failed to publish badge-unlocked notification")
		}
		logger.Ctx(ctx).Info().
			Uint("userId", user.ID).
			Str("badge", badge.Name).
			Int("level", badge.Level).
			Msg("badge awarded")
	}

	span.SetAttributes(attribute.Int("badges.awarded", len(awarded)))
	return awarded, nil
}
