package domain

import "time"

// CashbackStatus 定义了返现交易的生命周期状态。
// 流转单向: pending → processing → completed | failed。
// failed 可以被重试，重试是在同一行上回到 processing 再次评估，而不是新建交易。
type CashbackStatus string

const (
	CashbackStatusPending    CashbackStatus = "pending"
	CashbackStatusProcessing CashbackStatus = "processing"
	CashbackStatusCompleted  CashbackStatus = "completed"
	CashbackStatusFailed     CashbackStatus = "failed"
)

// CashbackTransaction 跟踪一笔对用户的返现支付。
// PurchaseID 上有唯一约束，作为流水线重入时的幂等保护:
// 同一购买不会产生第二笔交易。
type CashbackTransaction struct {
	ID           uint
	UserID       uint
	PurchaseID   *uint
	Amount       float64
	Currency     string
	Status       CashbackStatus
	Provider     string
	Reference    string
	RawResponse  map[string]interface{}
	ErrorMessage string
	RetryCount   int
	ProcessedAt  *time.Time
	CreatedAt    time.Time
}

// Terminal 表示交易已走到终态。
func (t *CashbackTransaction) Terminal() bool {
	return t.Status == CashbackStatusCompleted || t.Status == CashbackStatusFailed
}

// MarkProcessing 把交易置为处理中。从 failed 回到 processing 即为一次重试。
func (t *CashbackTransaction) MarkProcessing() error {
	if t.Status == CashbackStatusCompleted {
		return ErrInvalidCashbackTransition
	}
	if t.Status == CashbackStatusFailed {
		t.RetryCount++
	}
	t.Status = CashbackStatusProcessing
	t.ErrorMessage = ""
	return nil
}

// MarkCompleted 记录转账成功: 引用号、原始响应与处理时间。
func (t *CashbackTransaction) MarkCompleted(reference string, raw map[string]interface{}) {
	now := time.Now()
	t.Status = CashbackStatusCompleted
	t.Reference = reference
	t.RawResponse = raw
	t.ErrorMessage = ""
	t.ProcessedAt = &now
}

// MarkFailed 记录转账失败。失败是被报告的结果，不是抛出的错误。
func (t *CashbackTransaction) MarkFailed(message string, raw map[string]interface{}) {
	now := time.Now()
	t.Status = CashbackStatusFailed
	t.ErrorMessage = message
	t.RawResponse = raw
	t.ProcessedAt = &now
}
