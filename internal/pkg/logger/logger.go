package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = base
}

// Init 为进程设置服务名字段。各 main 在启动时调用一次。
func Init(serviceName string) {
	base = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	log.Logger = base
}

// Ctx 返回绑定了当前追踪上下文的 logger。
// 有活跃 span 时日志会带上 traceId，便于和 Jaeger 里的链路对齐。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		l := base.With().Str("traceId", spanCtx.TraceID().String()).Logger()
		return &l
	}
	return &base
}
