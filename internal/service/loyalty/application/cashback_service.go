package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyalty/internal/pkg/logger"
	"loyalty/internal/service/loyalty/domain"
	"loyalty/internal/service/loyalty/domain/port"
)

const defaultCurrency = "NGN"

// CalculateCashback 是纯函数: 金额 × (基础费率 + 徽章加成)，半进位保留两位小数。
// 全程在十进制域内计算，50000 这样的边界值精确命中当档费率。
func CalculateCashback(purchase *domain.Purchase, badgeLevel int) float64 {
	rate := baseRate(purchase.Amount).Add(domain.CashbackBonusRate(badgeLevel))
	amount := decimal.NewFromFloat(purchase.Amount).Mul(rate).Round(2)
	result, _ := amount.Float64()
	return result
}

// baseRate 按购买金额分档，边界值含当档: 恰好 50000 拿 5%。
func baseRate(amount float64) decimal.Decimal {
	switch {
	case amount >= 50000:
		return decimal.NewFromFloat(0.05)
	case amount >= 20000:
		return decimal.NewFromFloat(0.03)
	case amount >= 5000:
		return decimal.NewFromFloat(0.02)
	default:
		return decimal.NewFromFloat(0.01)
	}
}

// CashbackService 是返现支付编排器。
// 驱动一笔交易走完 pending → processing → completed|failed，
// 返回时交易必然处于终态。
type CashbackService struct {
	store    domain.Store
	provider port.PaymentProvider
	notifier port.NotificationProducer
	tracer   trace.Tracer
}

func NewCashbackService(store domain.Store, provider port.PaymentProvider, notifier port.NotificationProducer, tracer trace.Tracer) *CashbackService {
	return &CashbackService{store: store, provider: provider, notifier: notifier, tracer: tracer}
}

// Process 为一次购买执行现金返还。
// 提供方的失败是被报告的结果而不是错误，永远不会从这里向上抛；
// 返回 error 只可能来自持久化故障。
func (s *CashbackService) Process(ctx context.Context, purchase *domain.Purchase) (*domain.CashbackTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.ProcessCashback")
	defer span.End()
	span.SetAttributes(attribute.Int("purchase.id", int(purchase.ID)))

	user, err := s.store.Users().FindByID(ctx, purchase.UserID)
	if err != nil {
		return nil, err
	}

	// 幂等保护: 同一购买至多一笔交易。流水线在步骤边界被重入时，
	// 这里复用已存在的行而不是再建一笔、再付一次。
	txn, err := s.store.Cashbacks().FindByPurchase(ctx, purchase.ID)
	if err != nil {
		return nil, err
	}
	if txn != nil && txn.Terminal() {
		logger.Ctx(ctx).Info().
			Uint("purchaseId", purchase.ID).
			Uint("transactionId", txn.ID).
			Str("status", string(txn.Status)).
			Msg("cashback transaction already exists for purchase, reusing")
		return txn, nil
	}

	if txn == nil {
		badgeLevel, err := s.currentBadgeLevel(ctx, user)
		if err != nil {
			return nil, err
		}

		currency := purchase.Currency
		if currency == "" {
			currency = defaultCurrency
		}
		purchaseID := purchase.ID
		txn = &domain.CashbackTransaction{
			UserID:     user.ID,
			PurchaseID: &purchaseID,
			Amount:     CalculateCashback(purchase, badgeLevel),
			Currency:   currency,
			Status:     domain.CashbackStatusPending,
			Provider:   s.provider.Name(),
		}
		if err := s.store.Cashbacks().Create(ctx, txn); err != nil {
			return nil, err
		}
	}

	metadata := map[string]interface{}{
		"transaction_id": txn.ID,
		"purchase_id":    purchase.ID,
		"description":    fmt.Sprintf("Cashback for purchase #%s", purchase.OrderID),
	}
	if err := s.execute(ctx, user, txn, metadata); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cashback persistence failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("cashback.status", string(txn.Status)))
	return txn, nil
}

// Retry 重试一笔失败的交易。仅对 failed 有效，其他状态直接返回 false 且无副作用。
// 成功时执行与首次相同的完成步骤，返现总额恰好累加一次。
func (s *CashbackService) Retry(ctx context.Context, txn *domain.CashbackTransaction) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.RetryCashback")
	defer span.End()
	span.SetAttributes(attribute.Int("transaction.id", int(txn.ID)))

	if txn.Status != domain.CashbackStatusFailed {
		return false, nil
	}

	user, err := s.store.Users().FindByID(ctx, txn.UserID)
	if err != nil {
		return false, err
	}

	metadata := map[string]interface{}{
		"transaction_id": txn.ID,
		"retry":          true,
	}
	if txn.PurchaseID != nil {
		metadata["purchase_id"] = *txn.PurchaseID
	}
	if err := s.execute(ctx, user, txn, metadata); err != nil {
		return false, err
	}
	return txn.Status == domain.CashbackStatusCompleted, nil
}

// execute 驱动一次转账尝试: 本地状态流转各自落库，
// 提供方的网络调用不包在任何数据库事务里。
func (s *CashbackService) execute(ctx context.Context, user *domain.User, txn *domain.CashbackTransaction, metadata map[string]interface{}) error {
	if err := txn.MarkProcessing(); err != nil {
		return err
	}
	if err := s.store.Cashbacks().Update(ctx, txn); err != nil {
		return err
	}

	result := s.transfer(ctx, user, txn, metadata)
	if result.Success {
		return s.complete(ctx, user, txn, result)
	}
	return s.fail(ctx, txn, result)
}

// transfer 调用提供方。传输层的 error 在这里被就地捕获并折算成失败结果。
func (s *CashbackService) transfer(ctx context.Context, user *domain.User, txn *domain.CashbackTransaction, metadata map[string]interface{}) *port.TransferResult {
	result, err := s.provider.Transfer(ctx, user, txn.Amount, txn.Currency, metadata)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Uint("transactionId", txn.ID).
			Str("provider", s.provider.Name()).
			Msg("cashback transfer raised transport error")
		return &port.TransferResult{Success: false, Error: err.Error()}
	}
	return result
}

// complete 在一个事务内写入终态并累加用户返现总额。
func (s *CashbackService) complete(ctx context.Context, user *domain.User, txn *domain.CashbackTransaction, result *port.TransferResult) error {
	err := s.store.Transaction(ctx, func(tx domain.Store) error {
		txn.MarkCompleted(result.Reference, result.RawResponse)
		if err := tx.Cashbacks().Update(ctx, txn); err != nil {
			return err
		}
		user.AddCashback(txn.Amount)
		return tx.Users().Save(ctx, user)
	})
	if err != nil {
		return err
	}

	if err := s.notifier.Publish(ctx, domain.NewCashbackProcessedEvent(txn)); err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint("transactionId", txn.ID).Msg("failed to publish cashback-processed notification")
	}
	logger.Ctx(ctx).Info().
		Uint("transactionId", txn.ID).
		Uint("userId", user.ID).
		Float64("amount", txn.Amount).
		Str("reference", txn.Reference).
		Msg("cashback payment successful")
	return nil
}

// fail 写入失败终态。用户的返现总额保持不变。
func (s *CashbackService) fail(ctx context.Context, txn *domain.CashbackTransaction, result *port.TransferResult) error {
	message := result.Error
	if message == "" {
		message = "unknown error"
	}
	txn.MarkFailed(message, result.RawResponse)
	if err := s.store.Cashbacks().Update(ctx, txn); err != nil {
		return err
	}

	if err := s.notifier.Publish(ctx, domain.NewCashbackFailedEvent(txn)); err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint("transactionId", txn.ID).Msg("failed to publish cashback-failed notification")
	}
	logger.Ctx(ctx).Warn().
		Uint("transactionId", txn.ID).
		Float64("amount", txn.Amount).
		Str("error", message).
		Msg("cashback payment failed")
	return nil
}

func (s *CashbackService) currentBadgeLevel(ctx context.Context, user *domain.User) (int, error) {
	if user.CurrentBadgeID == nil {
		return domain.BadgeLevelNone, nil
	}
	badge, err := s.store.Badges().FindByID(ctx, *user.CurrentBadgeID)
	if err != nil {
		return 0, err
	}
	return badge.Level, nil
}
