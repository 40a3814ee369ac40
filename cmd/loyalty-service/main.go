package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"loyalty/internal/pkg/bootstrap"
	"loyalty/internal/pkg/config"
	"loyalty/internal/pkg/mq"
	"loyalty/internal/pkg/redis"
	"loyalty/internal/pkg/zookeeper"
	"loyalty/internal/service/loyalty/application"
	"loyalty/internal/service/loyalty/domain/port"
	"loyalty/internal/service/loyalty/infrastructure"
	"loyalty/internal/service/loyalty/infrastructure/adapter"
	"loyalty/internal/service/loyalty/interfaces"
)

const serviceName = "loyalty-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// --- 持久化 ---
	db, err := infrastructure.NewDB(cfg.Infra.MySQL.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := infrastructure.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	if err := infrastructure.SeedCatalog(db); err != nil {
		log.Fatal().Err(err).Msg("failed to seed catalog")
	}
	store := infrastructure.NewGormStore(db)

	// --- 用户锁 ---
	locker, err := buildLocker(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build user locker")
	}

	// --- 支付提供方 ---
	tracer := otel.Tracer(serviceName)
	provider, err := buildPaymentProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build payment provider")
	}

	// --- 出站通知 ---
	notificationWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic)
	notifier := adapter.NewNotificationKafkaAdapter(notificationWriter)
	defer notifier.Close()

	// --- 应用服务 ---
	achievements := application.NewAchievementService(store, notifier, tracer)
	badges := application.NewBadgeService(store, notifier, tracer)
	cashback := application.NewCashbackService(store, provider, notifier, tracer)
	pipeline := application.NewPipeline(store, achievements, badges, cashback, locker, tracer, cfg.Pipeline.ProcessingTimeout.Std())
	queries := application.NewQueries(store)

	// --- 入站消费者与重试任务 ---
	purchaseReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.PurchaseTopic, cfg.Infra.Kafka.ConsumerGroup)
	consumer := interfaces.NewPurchaseConsumer(purchaseReader, pipeline, cfg.Pipeline.MaxAttempts, cfg.Pipeline.AttemptBackoff.Std())
	retryWorker := interfaces.NewCashbackRetryWorker(store, cashback,
		cfg.CashbackRetry.Interval.Std(), cfg.CashbackRetry.Backoff.Std(), cfg.CashbackRetry.MaxAttempts)

	handler := interfaces.NewLoyaltyHandler(queries)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		Config:      cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Run: func(ctx context.Context) error {
			g, ctx := errgroup.WithContext(ctx)
			consumer.Start(ctx)
			g.Go(func() error {
				<-ctx.Done()
				consumer.Stop()
				return nil
			})
			g.Go(func() error {
				return retryWorker.Run(ctx)
			})
			return g.Wait()
		},
	})
}

// buildLocker 按配置选择用户锁后端。
func buildLocker(cfg *config.Config) (port.UserLocker, error) {
	switch cfg.Pipeline.LockBackend {
	case "zookeeper":
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Addrs)
		if err != nil {
			return nil, err
		}
		return adapter.NewUserLockZookeeperAdapter(conn), nil
	case "redis", "":
		redisClient := redis.NewClient(cfg.Infra.Redis.Addr)
		return adapter.NewUserLockRedisAdapter(redisClient)
	default:
		return nil, fmt.Errorf("unknown lock backend: %s", cfg.Pipeline.LockBackend)
	}
}

// buildPaymentProvider 按配置选择支付提供方。
func buildPaymentProvider(cfg *config.Config) (port.PaymentProvider, error) {
	switch cfg.Payment.Provider {
	case "paystack":
		if cfg.Payment.Paystack.SecretKey == "" {
			return nil, fmt.Errorf("paystack provider requires a secret key")
		}
		return adapter.NewPaystackAdapter(cfg.Payment.Paystack.BaseURL, cfg.Payment.Paystack.SecretKey, otel.Tracer(serviceName)), nil
	case "mock", "":
		return adapter.NewMockPaymentAdapter(cfg.Payment.Mock.SuccessRate), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.Payment.Provider)
	}
}
