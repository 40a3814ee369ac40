package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"loyalty/internal/pkg/mq"
	"loyalty/internal/service/loyalty/domain"
)

// NotificationKafkaAdapter 实现了 port.NotificationProducer 接口。
// 以 userID 作消息 Key，同一用户的通知在分区内保持有序。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

// Publish 把通知事件写入出站队列。
func (a *NotificationKafkaAdapter) Publish(ctx context.Context, event *domain.NotificationEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	key := []byte(strconv.FormatUint(uint64(event.UserID), 10))
	// mq.ProduceMessage 会自动把追踪上下文注入消息头
	return mq.ProduceMessage(ctx, a.writer, key, eventBytes)
}

// Close 关闭底层的 Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
