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

// Pipeline 是奖励流水线协调器: 对单个购买依次运行
// 成就评估 → 徽章评估 → 返现支付，最后把购买标记为已处理。
// 幂等边界与重试策略归它所有。
type Pipeline struct {
	store             domain.Store
	achievements      *AchievementService
	badges            *BadgeService
	cashback          *CashbackService
	locker            port.UserLocker
	tracer            trace.Tracer
	processingTimeout time.Duration
}

func NewPipeline(
	store domain.Store,
	achievements *AchievementService,
	badges *BadgeService,
	cashback *CashbackService,
	locker port.UserLocker,
	tracer trace.Tracer,
	processingTimeout time.Duration,
) *Pipeline {
	return &Pipeline{
		store:             store,
		achievements:      achievements,
		badges:            badges,
		cashback:          cashback,
		locker:            locker,
		tracer:            tracer,
		processingTimeout: processingTimeout,
	}
}

// ProcessPurchase 驱动一次完整的流水线运行。
// 步骤 3~5 各自是独立事务；中途失败不回滚已提交的步骤，
// 运行会被外部重试策略从头重放——成就/徽章评估天然幂等(跳过已解锁项)，
// 返现编排器靠 per-purchase 幂等保护不重复付款，所以重放是安全的。
func (p *Pipeline) ProcessPurchase(ctx context.Context, purchaseID uint) error {
	ctx, span := p.tracer.Start(ctx, "loyalty.ProcessRewards")
	defer span.End()
	span.SetAttributes(attribute.Int("purchase.id", int(purchaseID)))

	ctx, cancel := context.WithTimeout(ctx, p.processingTimeout)
	defer cancel()

	purchase, err := p.store.Purchases().FindByID(ctx, purchaseID)
	if err != nil {
		return err
	}

	// 幂等边界: 已处理的购买直接跳过，没有状态变更也没有新通知。
	if purchase.ProcessedForLoyalty {
		logger.Ctx(ctx).Info().Uint("purchaseId", purchase.ID).Msg("purchase already processed for loyalty, skipping")
		return nil
	}
	if !purchase.EligibleForLoyalty() {
		logger.Ctx(ctx).Info().
			Uint("purchaseId", purchase.ID).
			Str("status", string(purchase.Status)).
			Msg("purchase not eligible for loyalty, skipping")
		return nil
	}

	// 同一用户的流水线串行执行；锁覆盖步骤 3~5 的全部共享可变状态。
	unlock, err := p.locker.Lock(ctx, purchase.UserID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer unlock()

	// 拿锁期间可能有并发运行已经处理完，拿到锁后重读一次守卫。
	if purchase, err = p.store.Purchases().FindByID(ctx, purchaseID); err != nil {
		return err
	}
	if purchase.ProcessedForLoyalty {
		logger.Ctx(ctx).Info().Uint("purchaseId", purchase.ID).Msg("purchase processed while waiting for lock, skipping")
		return nil
	}

	logger.Ctx(ctx).Info().
		Uint("purchaseId", purchase.ID).
		Uint("userId", purchase.UserID).
		Float64("amount", purchase.Amount).
		Msg("starting loyalty rewards processing")

	// 步骤 3: 成就评估。失败中止本次运行，购买保持未处理。
	unlocked, err := p.achievements.ProcessPurchase(ctx, purchase)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "achievement step failed")
		return err
	}

	// 步骤 4: 徽章评估。重读用户，拿到成就步骤刚提交的积分。
	user, err := p.store.Users().FindByID(ctx, purchase.UserID)
	if err != nil {
		return err
	}
	awarded, err := p.badges.EvaluateBadges(ctx, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "badge step failed")
		return err
	}

	// 步骤 5: 返现支付。编排器总是返回终态交易，
	// 提供方失败不会中止流水线，也不会阻止购买被标记为已处理。
	txn, err := p.cashback.Process(ctx, purchase)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cashback step failed")
		return err
	}

	// 步骤 6: 标记已处理。此后这条流水线对该购买永久关闭。
	if err := p.store.Purchases().MarkProcessed(ctx, purchase.ID); err != nil {
		span.RecordError(err)
		return err
	}

	logger.Ctx(ctx).Info().
		Uint("purchaseId", purchase.ID).
		Int("achievementsUnlocked", len(unlocked)).
		Int("badgesEarned", len(awarded)).
		Float64("cashbackAmount", txn.Amount).
		Str("cashbackStatus", string(txn.Status)).
		Msg("loyalty rewards processing completed")
	return nil
}
