package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"loyalty/internal/pkg/logger"
	"loyalty/internal/pkg/mq"
	"loyalty/internal/service/loyalty/application"
	"loyalty/internal/service/loyalty/domain"
)

// PurchaseConsumer 是驱动适配器: 监听购买完成事件并驱动奖励流水线。
// 每条消息最多尝试 maxAttempts 次，全部失败后记录并提交 offset，
// 不让一条坏消息卡死整个分区。
type PurchaseConsumer struct {
	reader      *kafka.Reader
	pipeline    *application.Pipeline
	maxAttempts int
	backoff     time.Duration

	wg      sync.WaitGroup
	stopped bool
}

func NewPurchaseConsumer(reader *kafka.Reader, pipeline *application.Pipeline, maxAttempts int, backoff time.Duration) *PurchaseConsumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &PurchaseConsumer{
		reader:      reader,
		pipeline:    pipeline,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Start 开始监听购买事件主题。这是一个长期运行的方法。
func (c *PurchaseConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("purchase consumer started")
		for {
			if c.stopped {
				return
			}
			// FetchMessage 而不是 ReadMessage，处理完成后才提交 offset
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("purchase consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
				time.Sleep(time.Second)
				continue
			}

			c.processMessage(ctx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *PurchaseConsumer) Stop() {
	c.stopped = true
	c.reader.Close()
	c.wg.Wait()
}

// processMessage 反序列化事件并带重试地运行流水线。
func (c *PurchaseConsumer) processMessage(parentCtx context.Context, msg kafka.Message) {
	var event domain.PurchaseCompletedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(parentCtx).Error().Err(err).Msg("failed to unmarshal purchase event, skipping message")
		purchasesProcessed.WithLabelValues("malformed").Inc()
		return
	}

	// 把消费端挂到生产端的同一条追踪链路上
	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		pipelineAttempts.Inc()
		start := time.Now()
		err = c.pipeline.ProcessPurchase(ctx, event.PurchaseID)
		pipelineDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			purchasesProcessed.WithLabelValues("success").Inc()
			return
		}

		logger.Ctx(ctx).Error().Err(err).
			Uint("purchaseId", event.PurchaseID).
			Int("attempt", attempt).
			Int("maxAttempts", c.maxAttempts).
			Msg("rewards pipeline attempt failed")

		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				purchasesProcessed.WithLabelValues("aborted").Inc()
				return
			case <-time.After(c.backoff):
			}
		}
	}

	// 购买保持未处理，人工介入或重放后还能被安全地重新消费
	logger.Ctx(ctx).Error().Err(err).
		Uint("purchaseId", event.PurchaseID).
		Str("eventId", event.EventID).
		Msg("rewards pipeline permanently failed for purchase")
	purchasesProcessed.WithLabelValues("failed").Inc()
}
