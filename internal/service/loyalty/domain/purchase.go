package domain

import "time"

// PurchaseStatus 定义了购买的生命周期状态。
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

// Purchase 是触发奖励流水线的购买快照。
// ProcessedForLoyalty 是整条流水线的幂等边界: false→true 单向翻转，
// 翻转之后同一购买永远不会被重新处理。
type Purchase struct {
	ID                  uint
	UserID              uint
	OrderID             string
	Amount              float64
	Currency            string
	Status              PurchaseStatus
	ProcessedForLoyalty bool
	CreatedAt           time.Time
}

// EligibleForLoyalty 判断该购买是否应进入奖励流水线。
func (p *Purchase) EligibleForLoyalty() bool {
	return p.Status == PurchaseStatusCompleted && !p.ProcessedForLoyalty
}
