package domain

import (
	"fmt"
	"time"
)

// PurchaseCompletedEvent 是订单域发布的"购买完成"信号，
// 由奖励流水线的 Kafka 消费者接收。生产方不在本服务范围内。
type PurchaseCompletedEvent struct {
	EventID    string `json:"eventId"`
	PurchaseID uint   `json:"purchaseId"`
	UserID     uint   `json:"userId"`
	TraceID    string `json:"traceId,omitempty"`
}

// NotificationType 列出写入出站通知队列的事件类型。
type NotificationType string

const (
	NotificationAchievementUnlocked NotificationType = "achievement.unlocked"
	NotificationBadgeUnlocked       NotificationType = "badge.unlocked"
	NotificationCashbackProcessed   NotificationType = "cashback.processed"
	NotificationCashbackFailed      NotificationType = "cashback.failed"
)

// NotificationEvent 是出站事件队列上的统一载体。
// 流水线只负责写入队列，投递(邮件/推送/站内信)由独立的消费者完成，
// 投递失败不会回传到流水线。
type NotificationEvent struct {
	EventID    string                 `json:"eventId"`
	Type       NotificationType       `json:"type"`
	UserID     uint                   `json:"userId"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// NewAchievementUnlockedEvent 构造成就解锁通知。
func NewAchievementUnlockedEvent(user *User, achievement *Achievement) *NotificationEvent {
	return &NotificationEvent{
		Type:    NotificationAchievementUnlocked,
		UserID:  user.ID,
		Title:   "Achievement Unlocked",
		Message: fmt.Sprintf("You unlocked %q and earned %d points!", achievement.Name, achievement.Points),
		Payload: map[string]interface{}{
			"achievementId": achievement.ID,
			"name":          achievement.Name,
			"tier":          achievement.Tier,
			"points":        achievement.Points,
		},
		OccurredAt: time.Now(),
	}
}

// NewBadgeUnlockedEvent 构造徽章授予通知。
func NewBadgeUnlockedEvent(user *User, badge *Badge) *NotificationEvent {
	return &NotificationEvent{
		Type:    NotificationBadgeUnlocked,
		UserID:  user.ID,
		Title:   "New Badge Earned",
		Message: fmt.Sprintf("Congratulations! You reached %s (level %d).", badge.Name, badge.Level),
		Payload: map[string]interface{}{
			"badgeId": badge.ID,
			"name":    badge.Name,
			"level":   badge.Level,
		},
		OccurredAt: time.Now(),
	}
}

// NewCashbackProcessedEvent 构造返现成功通知。
func NewCashbackProcessedEvent(txn *CashbackTransaction) *NotificationEvent {
	return &NotificationEvent{
		Type:    NotificationCashbackProcessed,
		UserID:  txn.UserID,
		Title:   "Cashback Paid",
		Message: fmt.Sprintf("Your cashback of %.2f %s has been paid.", txn.Amount, txn.Currency),
		Payload: map[string]interface{}{
			"transactionId": txn.ID,
			"amount":        txn.Amount,
			"currency":      txn.Currency,
			"reference":     txn.Reference,
		},
		OccurredAt: time.Now(),
	}
}

// NewCashbackFailedEvent 构造返现失败通知。失败交易会按计划自动重试。
func NewCashbackFailedEvent(txn *CashbackTransaction) *NotificationEvent {
	return &NotificationEvent{
		Type:    NotificationCashbackFailed,
		UserID:  txn.UserID,
		Title:   "Cashback Delayed",
		Message: fmt.Sprintf("Your cashback of %.2f %s could not be paid yet. We will retry automatically.", txn.Amount, txn.Currency),
		Payload: map[string]interface{}{
			"transactionId": txn.ID,
			"amount":        txn.Amount,
			"currency":      txn.Currency,
			"error":         txn.ErrorMessage,
		},
		OccurredAt: time.Now(),
	}
}
