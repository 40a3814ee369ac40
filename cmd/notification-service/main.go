package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rs/zerolog/log"

	"loyalty/internal/pkg/bootstrap"
	"loyalty/internal/pkg/config"
	"loyalty/internal/pkg/logger"
	"loyalty/internal/pkg/mq"
	"loyalty/internal/service/loyalty/domain"
)

const serviceName = "notification-service"

var tracer = otel.Tracer(serviceName)

// 通知投递服务: 消费流水线写入的出站事件并按类型分发。
// 投递失败只记录，绝不回传到奖励流水线。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8085,
		Config:      cfg,
		Run: func(ctx context.Context) error {
			reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic, "notification-delivery")
			defer reader.Close()

			logger.Ctx(ctx).Info().Str("topic", cfg.Infra.Kafka.NotificationTopic).Msg("notification consumer started")
			for {
				msg, err := reader.FetchMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
					time.Sleep(time.Second)
					continue
				}

				processNotification(ctx, msg)

				if err := reader.CommitMessages(ctx, msg); err != nil {
					logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
				}
			}
		},
	})
}

// processNotification 处理从 Kafka 收到的单条通知事件。
func processNotification(parentCtx context.Context, msg kafka.Message) {
	// 把自己挂到流水线的同一条追踪链路上
	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	ctx, span := tracer.Start(ctx, "notification.Deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		),
	)
	defer span.End()

	var event domain.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal notification event, skipping")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("notification.type", string(event.Type)),
		attribute.Int("user.id", int(event.UserID)),
	)

	// 按类型分发。真实投递(邮件网关、APNs/FCM)接在这里；
	// 目前所有渠道都落到结构化日志，推送走 push-gateway 的 WebSocket。
	switch event.Type {
	case domain.NotificationAchievementUnlocked, domain.NotificationBadgeUnlocked:
		deliverPush(ctx, &event)
	case domain.NotificationCashbackProcessed, domain.NotificationCashbackFailed:
		deliverPush(ctx, &event)
		deliverEmail(ctx, &event)
	default:
		logger.Ctx(ctx).Warn().Str("type", string(event.Type)).Msg("unknown notification type, skipping")
		return
	}
	span.AddEvent("notification dispatched")
}

func deliverPush(ctx context.Context, event *domain.NotificationEvent) {
	logger.Ctx(ctx).Info().
		Uint("userId", event.UserID).
		Str("type", string(event.Type)).
		Str("title", event.Title).
		Msg("push notification dispatched")
}

func deliverEmail(ctx context.Context, event *domain.NotificationEvent) {
	logger.Ctx(ctx).Info().
		Uint("userId", event.UserID).
		Str("type", string(event.Type)).
		Str("message", event.Message).
		Msg("email notification dispatched")
}
