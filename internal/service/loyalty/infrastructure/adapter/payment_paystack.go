package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"

	"loyalty/internal/pkg/httpclient"
	"loyalty/internal/service/loyalty/domain"
	"loyalty/internal/service/loyalty/domain/port"
)

// PaystackAdapter 是 port.PaymentProvider 的 Paystack 实现。
// 转账分两步: 先创建收款人拿到 recipient_code，再发起 transfer。
type PaystackAdapter struct {
	baseURL   string
	secretKey string
	client    *httpclient.Client
}

// NewPaystackAdapter 创建 Paystack 适配器。baseURL 为空时使用官方地址。
func NewPaystackAdapter(baseURL, secretKey string, tracer trace.Tracer) *PaystackAdapter {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	return &PaystackAdapter{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    httpclient.NewClient(tracer),
	}
}

func (a *PaystackAdapter) Name() string {
	return "paystack"
}

// paystackResponse 是 Paystack API 的统一响应外壳。
type paystackResponse struct {
	Status  bool                   `json:"status"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

// Transfer 向用户的银行账户发起一笔转账。
// 业务拒绝(API 返回 status=false)通过 Success=false 报告；
// 只有传输层故障才返回 error。
func (a *PaystackAdapter) Transfer(ctx context.Context, user *domain.User, amount float64, currency string, metadata map[string]interface{}) (*port.TransferResult, error) {
	recipientCode, err := a.createRecipient(ctx, user, currency)
	if err != nil {
		return nil, err
	}
	if recipientCode == "" {
		return &port.TransferResult{
			Success: false,
			Error:   "failed to create transfer recipient",
		}, nil
	}

	// Paystack 以最小货币单位(kobo)计价
	kobo := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).IntPart()

	body := map[string]interface{}{
		"source":    "balance",
		"amount":    kobo,
		"recipient": recipientCode,
		"currency":  currency,
		"reason":    "Loyalty cashback payout",
		"metadata":  metadata,
	}

	var resp paystackResponse
	status, err := a.client.PostJSON(ctx, a.baseURL+"/transfer", a.headers(), body, &resp)
	if err != nil {
		return nil, fmt.Errorf("paystack transfer request failed: %w", err)
	}

	raw := map[string]interface{}{
		"provider":   "paystack",
		"statusCode": status,
		"message":    resp.Message,
		"data":       resp.Data,
	}

	if status != http.StatusOK || !resp.Status {
		message := resp.Message
		if message == "" {
			message = fmt.Sprintf("paystack returned status %d", status)
		}
		return &port.TransferResult{Success: false, Error: message, RawResponse: raw}, nil
	}

	reference, _ := resp.Data["reference"].(string)
	if reference == "" {
		reference, _ = resp.Data["transfer_code"].(string)
	}
	return &port.TransferResult{Success: true, Reference: reference, RawResponse: raw}, nil
}

// createRecipient 用用户的收款信息创建(或复用)一个 transfer recipient。
// Paystack 对相同的账户信息返回同一个 recipient_code，重复创建是安全的。
func (a *PaystackAdapter) createRecipient(ctx context.Context, user *domain.User, currency string) (string, error) {
	body := map[string]interface{}{
		"type":           "nuban",
		"name":           user.Name,
		"account_number": user.BankAccount,
		"bank_code":      user.BankCode,
		"currency":       currency,
	}

	var resp paystackResponse
	status, err := a.client.PostJSON(ctx, a.baseURL+"/transferrecipient", a.headers(), body, &resp)
	if err != nil {
		return "", fmt.Errorf("paystack create recipient request failed: %w", err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", nil
	}
	if !resp.Status {
		return "", nil
	}
	code, _ := resp.Data["recipient_code"].(string)
	return code, nil
}

func (a *PaystackAdapter) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.secretKey,
	}
}
