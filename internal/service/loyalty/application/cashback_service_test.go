package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"loyalty/internal/service/loyalty/domain"
	"loyalty/internal/service/loyalty/domain/port"
)

func newCashbackFixture(provider *fakeProvider) (*fakeStore, *fakeNotifier, *CashbackService) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	svc := NewCashbackService(store, provider, notifier, otel.Tracer("test"))
	return store, notifier, svc
}

func TestCashbackSuccessfulPayment(t *testing.T) {
	provider := &fakeProvider{results: []*port.TransferResult{
		{Success: true, Reference: "MOCK_ABC", RawResponse: map[string]interface{}{"status": "success"}},
	}}
	store, notifier, svc := newCashbackFixture(provider)
	store.users[1] = &domain.User{ID: 1, Name: "Ada"}
	purchase := &domain.Purchase{ID: 9, UserID: 1, OrderID: "ORD-9", Amount: 60000, Status: domain.PurchaseStatusCompleted}

	txn, err := svc.Process(context.Background(), purchase)
	require.NoError(t, err)

	assert.Equal(t, domain.CashbackStatusCompleted, txn.Status)
	assert.Equal(t, 3000.0, txn.Amount) // 60000 × 5%，无徽章加成
	assert.Equal(t, "MOCK_ABC", txn.Reference)
	assert.Equal(t, "NGN", txn.Currency)
	require.NotNil(t, txn.ProcessedAt)

	// 返现总额恰好累加一次
	assert.Equal(t, 3000.0, store.users[1].TotalCashback)
	require.Len(t, notifier.byType(domain.NotificationCashbackProcessed), 1)
}

func TestCashbackAppliesBadgeBonus(t *testing.T) {
	provider := &fakeProvider{}
	store, _, svc := newCashbackFixture(provider)
	diamond := uint(5)
	store.users[1] = &domain.User{ID: 1, CurrentBadgeID: &diamond}
	store.badges = []*domain.Badge{{ID: 5, Level: domain.BadgeLevelDiamond, IsActive: true}}
	purchase := &domain.Purchase{ID: 9, UserID: 1, Amount: 60000, Status: domain.PurchaseStatusCompleted}

	txn, err := svc.Process(context.Background(), purchase)
	require.NoError(t, err)
	assert.Equal(t, 4200.0, txn.Amount) // 5% + 2%
}

func TestCashbackProviderRejectionIsReportedNotRaised(t *testing.T) {
	provider := &fakeProvider{results: []*port.TransferResult{
		{Success: false, Error: "Insufficient funds in disbursement account"},
	}}
	store, notifier, svc := newCashbackFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	purchase := &domain.Purchase{ID: 9, UserID: 1, Amount: 10000, Status: domain.PurchaseStatusCompleted}

	txn, err := svc.Process(context.Background(), purchase)
	require.NoError(t, err)

	assert.Equal(t, domain.CashbackStatusFailed, txn.Status)
	assert.Equal(t, "Insufficient funds in disbursement account", txn.ErrorMessage)
	// 失败不改用户总额
	assert.Zero(t, store.users[1].TotalCashback)
	require.Len(t, notifier.byType(domain.NotificationCashbackFailed), 1)
}

func TestCashbackTransportErrorBecomesFailure(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("connection reset")}}
	store, _, svc := newCashbackFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	purchase := &domain.Purchase{ID: 9, UserID: 1, Amount: 10000, Status: domain.PurchaseStatusCompleted}

	txn, err := svc.Process(context.Background(), purchase)
	require.NoError(t, err)
	assert.Equal(t, domain.CashbackStatusFailed, txn.Status)
	assert.Equal(t, "connection reset", txn.ErrorMessage)
	assert.Zero(t, store.users[1].TotalCashback)
}

func TestCashbackIdempotentPerPurchase(t *testing.T) {
	provider := &fakeProvider{}
	store, _, svc := newCashbackFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	purchase := &domain.Purchase{ID: 9, UserID: 1, Amount: 10000, Status: domain.PurchaseStatusCompleted}

	first, err := svc.Process(context.Background(), purchase)
	require.NoError(t, err)
	require.Equal(t, domain.CashbackStatusCompleted, first.Status)

	// 重入: 既不再建交易也不再调提供方
	second, err := svc.Process(context.Background(), purchase)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, provider.calls)
	count, _ := store.Cashbacks().CountByUser(context.Background(), 1)
	assert.Equal(t, 1, count)
	assert.Equal(t, first.Amount, store.users[1].TotalCashback)
}

func TestCashbackRetryFromFailed(t *testing.T) {
	provider := &fakeProvider{
		results: []*port.TransferResult{
			{Success: false, Error: "Provider temporarily unavailable"},
			{Success: true, Reference: "REF_RETRY"},
		},
	}
	store, notifier, svc := newCashbackFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	purchase := &domain.Purchase{ID: 9, UserID: 1, Amount: 10000, Status: domain.PurchaseStatusCompleted}

	txn, err := svc.Process(context.Background(), purchase)
	require.NoError(t, err)
	require.Equal(t, domain.CashbackStatusFailed, txn.Status)

	ok, err := svc.Retry(context.Background(), txn)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.CashbackStatusCompleted, txn.Status)
	assert.Equal(t, 1, txn.RetryCount)
	assert.Equal(t, "REF_RETRY", txn.Reference)
	assert.Empty(t, txn.ErrorMessage)

	// 成功路径与首次一致: 总额只加一次
	assert.Equal(t, txn.Amount, store.users[1].TotalCashback)
	require.Len(t, notifier.byType(domain.NotificationCashbackProcessed), 1)
}

func TestCashbackRetryIgnoresNonFailed(t *testing.T) {
	provider := &fakeProvider{}
	store, _, svc := newCashbackFixture(provider)
	store.users[1] = &domain.User{ID: 1}

	txn := &domain.CashbackTransaction{UserID: 1, Amount: 100, Status: domain.CashbackStatusCompleted}
	require.NoError(t, store.Cashbacks().Create(context.Background(), txn))

	ok, err := svc.Retry(context.Background(), txn)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, provider.calls)
	assert.Equal(t, domain.CashbackStatusCompleted, txn.Status)
}

func TestCashbackRetryableListingHonorsBackoff(t *testing.T) {
	store := newFakeStore()
	old := time.Now().Add(-10 * time.Minute)
	fresh := time.Now().Add(-30 * time.Second)
	p1, p2, p3 := uint(1), uint(2), uint(3)
	store.cashbacks[1] = &domain.CashbackTransaction{ID: 1, UserID: 1, PurchaseID: &p1, Status: domain.CashbackStatusFailed, RetryCount: 0, ProcessedAt: &old}
	store.cashbacks[2] = &domain.CashbackTransaction{ID: 2, UserID: 1, PurchaseID: &p2, Status: domain.CashbackStatusFailed, RetryCount: 0, ProcessedAt: &fresh}
	store.cashbacks[3] = &domain.CashbackTransaction{ID: 3, UserID: 1, PurchaseID: &p3, Status: domain.CashbackStatusFailed, RetryCount: 5, ProcessedAt: &old}

	txns, err := store.Cashbacks().ListRetryable(context.Background(), time.Now().Add(-5*time.Minute), 5, 10)
	require.NoError(t, err)
	// 退避期内的和次数耗尽的都不返回
	require.Len(t, txns, 1)
	assert.Equal(t, uint(1), txns[0].ID)
}
