package port

import (
	"context"

	"loyalty/internal/service/loyalty/domain"
)

// NotificationProducer 是出站通知队列的端口。
// 流水线对它是 fire-and-forget: 发布失败由调用方记录日志，绝不回传。
type NotificationProducer interface {
	Publish(ctx context.Context, event *domain.NotificationEvent) error
}
