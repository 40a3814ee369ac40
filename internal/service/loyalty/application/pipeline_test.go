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

func newPipelineFixture(provider *fakeProvider) (*fakeStore, *fakeNotifier, *fakeLocker, *Pipeline) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	locker := &fakeLocker{}
	tracer := otel.Tracer("test")

	achievements := NewAchievementService(store, notifier, tracer)
	badges := NewBadgeService(store, notifier, tracer)
	cashback := NewCashbackService(store, provider, notifier, tracer)
	pipeline := NewPipeline(store, achievements, badges, cashback, locker, tracer, 2*time.Minute)
	return store, notifier, locker, pipeline
}

func TestPipelineFullRun(t *testing.T) {
	provider := &fakeProvider{}
	store, notifier, locker, pipeline := newPipelineFixture(provider)

	store.users[1] = &domain.User{ID: 1, Name: "Ada"}
	store.achievements = []*domain.Achievement{
		{ID: 10, Name: "First Purchase", Type: domain.AchievementTypePurchaseCount,
			Criteria: domain.Criteria{Target: 1}, Points: 150, IsActive: true},
	}
	store.badges = []*domain.Badge{
		{ID: 1, Name: "Bronze", Level: 1, PointsRequired: 100, AchievementsRequired: 1, IsActive: true},
	}
	store.purchases[9] = &domain.Purchase{ID: 9, UserID: 1, OrderID: "ORD-9", Amount: 60000, Status: domain.PurchaseStatusCompleted}

	require.NoError(t, pipeline.ProcessPurchase(context.Background(), 9))

	// 成就解锁、徽章授予、返现入账、购买关账
	assert.True(t, store.progress[[2]uint{1, 10}].Unlocked())
	assert.True(t, store.earned[[2]uint{1, 1}].IsCurrent)
	assert.Equal(t, 150, store.users[1].TotalPoints)
	assert.Equal(t, 3000.0, store.users[1].TotalCashback)
	assert.True(t, store.purchases[9].ProcessedForLoyalty)

	assert.Len(t, notifier.byType(domain.NotificationAchievementUnlocked), 1)
	assert.Len(t, notifier.byType(domain.NotificationBadgeUnlocked), 1)
	assert.Len(t, notifier.byType(domain.NotificationCashbackProcessed), 1)

	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, 1, locker.unlocks)
}

func TestPipelineSkipsProcessedPurchase(t *testing.T) {
	provider := &fakeProvider{}
	store, notifier, locker, pipeline := newPipelineFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	store.purchases[9] = &domain.Purchase{ID: 9, UserID: 1, Amount: 100,
		Status: domain.PurchaseStatusCompleted, ProcessedForLoyalty: true}

	require.NoError(t, pipeline.ProcessPurchase(context.Background(), 9))

	// 没有状态变更、没有新通知、锁都不必拿
	assert.Empty(t, notifier.events)
	assert.Zero(t, provider.calls)
	assert.Zero(t, locker.locks)
}

func TestPipelineSkipsIneligiblePurchase(t *testing.T) {
	provider := &fakeProvider{}
	store, notifier, _, pipeline := newPipelineFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	store.purchases[9] = &domain.Purchase{ID: 9, UserID: 1, Amount: 100, Status: domain.PurchaseStatusPending}

	require.NoError(t, pipeline.ProcessPurchase(context.Background(), 9))
	assert.Empty(t, notifier.events)
	assert.False(t, store.purchases[9].ProcessedForLoyalty)
}

func TestPipelineCashbackFailureStillClosesPurchase(t *testing.T) {
	provider := &fakeProvider{results: []*port.TransferResult{
		{Success: false, Error: "Provider temporarily unavailable"},
	}}
	store, notifier, _, pipeline := newPipelineFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	store.purchases[9] = &domain.Purchase{ID: 9, UserID: 1, Amount: 10000, Status: domain.PurchaseStatusCompleted}

	require.NoError(t, pipeline.ProcessPurchase(context.Background(), 9))

	// 提供方失败不是流水线失败: 购买照常关账，交易留在 failed 等计划重试
	assert.True(t, store.purchases[9].ProcessedForLoyalty)
	txn, err := store.Cashbacks().FindByPurchase(context.Background(), 9)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, domain.CashbackStatusFailed, txn.Status)
	assert.Len(t, notifier.byType(domain.NotificationCashbackFailed), 1)
}

func TestPipelineAbortsWithoutClosingPurchase(t *testing.T) {
	provider := &fakeProvider{}
	store, _, locker, pipeline := newPipelineFixture(provider)
	store.users[1] = &domain.User{ID: 1}
	store.purchases[9] = &domain.Purchase{ID: 9, UserID: 1, Amount: 100, Status: domain.PurchaseStatusCompleted}
	store.failListCandidates = errors.New("database gone")

	err := pipeline.ProcessPurchase(context.Background(), 9)
	require.Error(t, err)

	// 购买保持未处理，重放时整条流水线从头再跑
	assert.False(t, store.purchases[9].ProcessedForLoyalty)
	assert.Zero(t, provider.calls)
	assert.Equal(t, locker.locks, locker.unlocks)
}

func TestPipelineLockFailurePropagates(t *testing.T) {
	provider := &fakeProvider{}
	store, _, locker, pipeline := newPipelineFixture(provider)
	locker.fail = true
	store.users[1] = &domain.User{ID: 1}
	store.purchases[9] = &domain.Purchase{ID: 9, UserID: 1, Amount: 100, Status: domain.PurchaseStatusCompleted}

	err := pipeline.ProcessPurchase(context.Background(), 9)
	require.ErrorIs(t, err, domain.ErrLockNotAcquired)
	assert.False(t, store.purchases[9].ProcessedForLoyalty)
	assert.Zero(t, provider.calls)
}
