package port

import (
	"context"

	"loyalty/internal/service/loyalty/domain"
)

// TransferResult 是支付提供方的统一返回。
// 普通的拒绝/失败通过 Success=false 报告，而不是以 error 表达；
// 提供方只允许在传输层故障时返回 error，编排器会把两者同等对待。
type TransferResult struct {
	Success     bool
	Reference   string
	Error       string
	RawResponse map[string]interface{}
}

// PaymentProvider 是外部转账提供方的出站端口。
// 具体实现(网络调用、鉴权、收款人查询)属于基础设施层。
type PaymentProvider interface {
	Name() string
	Transfer(ctx context.Context, user *domain.User, amount float64, currency string, metadata map[string]interface{}) (*TransferResult, error)
}
