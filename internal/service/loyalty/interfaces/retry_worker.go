package interfaces

import (
	"context"
	"time"

	"loyalty/internal/pkg/logger"
	"loyalty/internal/service/loyalty/application"
	"loyalty/internal/service/loyalty/domain"
)

const retryBatchSize = 50

// CashbackRetryWorker 周期性扫描失败的返现交易并重试。
// 每轮只取一批，按上次处理时间从旧到新，退避时间内的交易不会被选中。
type CashbackRetryWorker struct {
	store       domain.Store
	cashback    *application.CashbackService
	interval    time.Duration
	backoff     time.Duration
	maxAttempts int
}

func NewCashbackRetryWorker(store domain.Store, cashback *application.CashbackService, interval, backoff time.Duration, maxAttempts int) *CashbackRetryWorker {
	return &CashbackRetryWorker{
		store:       store,
		cashback:    cashback,
		interval:    interval,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// Run 阻塞运行，直到 ctx 被取消。
func (w *CashbackRetryWorker) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().
		Dur("interval", w.interval).
		Int("maxAttempts", w.maxAttempts).
		Msg("cashback retry worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("cashback retry worker shutting down")
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CashbackRetryWorker) runOnce(ctx context.Context) {
	before := time.Now().Add(-w.backoff)
	txns, err := w.store.Cashbacks().ListRetryable(ctx, before, w.maxAttempts, retryBatchSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to list retryable cashback transactions")
		return
	}
	if len(txns) == 0 {
		return
	}

	logger.Ctx(ctx).Info().Int("count", len(txns)).Msg("retrying failed cashback transactions")
	for _, txn := range txns {
		succeeded, err := w.cashback.Retry(ctx, txn)
		switch {
		case err != nil:
			cashbackRetries.WithLabelValues("error").Inc()
			logger.Ctx(ctx).Error().Err(err).Uint("transactionId", txn.ID).Msg("cashback retry failed to persist")
		case succeeded:
			cashbackRetries.WithLabelValues("success").Inc()
		default:
			cashbackRetries.WithLabelValues("failed").Inc()
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
