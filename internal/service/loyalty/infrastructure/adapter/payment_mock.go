package adapter

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loyalty/internal/service/loyalty/domain"
	"loyalty/internal/service/loyalty/domain/port"
)

// 模拟提供方的失败原因，轮流出现
var mockFailureReasons = []string{
	"Insufficient funds in disbursement account",
	"Invalid account number",
	"Provider temporarily unavailable",
}

// MockPaymentAdapter 是 port.PaymentProvider 的内存实现，
// 按配置的成功率随机成败，用于开发环境和演示。
type MockPaymentAdapter struct {
	successRate int // 0..100

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockPaymentAdapter 创建模拟支付提供方。successRate 超出范围时按 90 处理。
func NewMockPaymentAdapter(successRate int) *MockPaymentAdapter {
	if successRate < 0 || successRate > 100 {
		successRate = 90
	}
	return &MockPaymentAdapter{
		successRate: successRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *MockPaymentAdapter) Name() string {
	return "mock"
}

// Transfer 模拟一次转账。拒绝通过 Success=false 报告，永不返回 error。
func (a *MockPaymentAdapter) Transfer(ctx context.Context, user *domain.User, amount float64, currency string, metadata map[string]interface{}) (*port.TransferResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	// 模拟网络往返
	case <-time.After(50 * time.Millisecond):
	}

	a.mu.Lock()
	roll := a.rng.Intn(100)
	a.mu.Unlock()

	if roll < a.successRate {
		reference := "MOCK_" + strings.ToUpper(uuid.NewString()[:12])
		return &port.TransferResult{
			Success:   true,
			Reference: reference,
			RawResponse: map[string]interface{}{
				"provider":  "mock",
				"reference": reference,
				"amount":    amount,
				"currency":  currency,
				"status":    "success",
			},
		}, nil
	}

	reason := mockFailureReasons[roll%len(mockFailureReasons)]
	return &port.TransferResult{
		Success: false,
		Error:   reason,
		RawResponse: map[string]interface{}{
			"provider": "mock",
			"amount":   amount,
			"currency": currency,
			"status":   "failed",
			"message":  reason,
		},
	}, nil
}
