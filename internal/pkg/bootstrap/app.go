package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"loyalty/internal/pkg/config"
	"loyalty/internal/pkg/logger"
	"loyalty/internal/pkg/nacos"
	"loyalty/internal/pkg/tracing"
)

// AppCtx 传递给各服务的注册回调，用于挂载自己的 HTTP 路由。
type AppCtx struct {
	Mux    *http.ServeMux
	Config *config.Config
	Nacos  *nacos.Client
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	Config           *config.Config
	RegisterHandlers func(appCtx AppCtx)             // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	Run              func(ctx context.Context) error // 后台工作循环，随服务关停而取消
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := info.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(os.Getenv("CONFIG_PATH"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
	}
	if info.ServiceName == "" {
		info.ServiceName = cfg.Service.Name
	}
	if info.Port == 0 {
		info.Port = cfg.Service.Port
	}

	logger.Init(info.ServiceName)

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. Nacos 注册
	nacosClient, err := nacos.NewClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	ip, err := getOutboundIP()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get outbound IP address")
	}

	if err := nacosClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to register service with nacos")
	}

	// 3. 创建并启动 HTTP Server，所有服务统一暴露健康检查和指标端点
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg, Nacos: nacosClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		log.Info().Str("addr", server.Addr).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 4. 启动后台工作循环
	runCtx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	if info.Run != nil {
		go func() {
			runDone <- info.Run(runCtx)
		}()
	} else {
		close(runDone)
	}

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msgf("shutting down service %s", info.ServiceName)
	case err := <-runDone:
		if err != nil {
			log.Error().Err(err).Msg("background worker exited with error")
		}
		runDone = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 按后进先出的顺序清理: 先停工作循环，再注销、刷 trace、关 HTTP
	cancelRun()
	if runDone != nil {
		select {
		case <-runDone:
		case <-ctx.Done():
			log.Warn().Msg("background worker did not stop in time")
		}
	}

	if err := nacosClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		log.Error().Err(err).Msg("error deregistering from nacos")
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down tracer provider")
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}

	log.Info().Msgf("service %s gracefully shut down", info.ServiceName)
}

// getOutboundIP 通过对外拨号探测本机对外通信使用的 IP。
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
