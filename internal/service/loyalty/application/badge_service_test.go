package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"loyalty/internal/service/loyalty/domain"
)

func newBadgeFixture() (*fakeStore, *fakeNotifier, *BadgeService) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	svc := NewBadgeService(store, notifier, otel.Tracer("test"))
	store.badges = []*domain.Badge{
		{ID: 1, Name: "Bronze", Level: 1, PointsRequired: 100, AchievementsRequired: 1, IsActive: true},
		{ID: 2, Name: "Silver", Level: 2, PointsRequired: 400, AchievementsRequired: 2, IsActive: true},
		{ID: 3, Name: "Gold", Level: 3, PointsRequired: 1000, AchievementsRequired: 3, IsActive: true},
		{ID: 4, Name: "Platinum", Level: 4, PointsRequired: 2500, AchievementsRequired: 5, IsActive: true},
	}
	return store, notifier, svc
}

// unlockAchievements 为用户制造 n 个已解锁成就，合计 points 积分。
func unlockAchievements(store *fakeStore, userID uint, n, points int) {
	now := time.Now()
	each := points / n
	for i := 0; i < n; i++ {
		id := uint(100 + i)
		p := each
		if i == n-1 {
			p = points - each*(n-1)
		}
		store.achievements = append(store.achievements, &domain.Achievement{ID: id, Points: p, IsActive: true})
		store.progress[[2]uint{userID, id}] = &domain.UserAchievement{
			UserID: userID, AchievementID: id, UnlockedAt: &now,
		}
	}
}

func TestBadgeAwardedWhenBothThresholdsMet(t *testing.T) {
	store, notifier, svc := newBadgeFixture()
	user := &domain.User{ID: 1}
	store.users[1] = user
	unlockAchievements(store, 1, 1, 120)

	awarded, err := svc.EvaluateBadges(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	assert.Equal(t, "Bronze", awarded[0].Name)

	require.NotNil(t, user.CurrentBadgeID)
	assert.Equal(t, uint(1), *user.CurrentBadgeID)
	assert.True(t, store.earned[[2]uint{1, 1}].IsCurrent)

	events := notifier.byType(domain.NotificationBadgeUnlocked)
	require.Len(t, events, 1)
}

func TestBadgeNotAwardedOnPointsAlone(t *testing.T) {
	store, notifier, svc := newBadgeFixture()
	user := &domain.User{ID: 1}
	store.users[1] = user
	// 积分够 Silver，成就数只有 1: 两个条件必须同时满足
	unlockAchievements(store, 1, 1, 500)

	awarded, err := svc.EvaluateBadges(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	assert.Equal(t, "Bronze", awarded[0].Name)
	assert.Empty(t, notifier.byType(domain.NotificationCashbackProcessed))
}

func TestBadgeMultipleLevelsAwardedHighestBecomesCurrent(t *testing.T) {
	store, _, svc := newBadgeFixture()
	user := &domain.User{ID: 1}
	store.users[1] = user
	// 一次评估同时满足 1~3 级
	unlockAchievements(store, 1, 3, 1200)

	awarded, err := svc.EvaluateBadges(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, awarded, 3)

	require.NotNil(t, user.CurrentBadgeID)
	assert.Equal(t, uint(3), *user.CurrentBadgeID)
	// 只有最高等级的记录持有 is_current
	assert.False(t, store.earned[[2]uint{1, 1}].IsCurrent)
	assert.False(t, store.earned[[2]uint{1, 2}].IsCurrent)
	assert.True(t, store.earned[[2]uint{1, 3}].IsCurrent)
}

func TestBadgeLowerLevelNeverDemotesCurrent(t *testing.T) {
	store, _, svc := newBadgeFixture()
	gold := uint(3)
	user := &domain.User{ID: 1, CurrentBadgeID: &gold}
	store.users[1] = user
	// Gold 已经是当前徽章，Bronze/Silver 补发时不能降级
	store.earned[[2]uint{1, 3}] = &domain.UserBadge{UserID: 1, BadgeID: 3, EarnedAt: time.Now(), IsCurrent: true}
	unlockAchievements(store, 1, 3, 1200)

	awarded, err := svc.EvaluateBadges(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, awarded, 2)

	assert.Equal(t, uint(3), *user.CurrentBadgeID)
	assert.True(t, store.earned[[2]uint{1, 3}].IsCurrent)
	assert.False(t, store.earned[[2]uint{1, 1}].IsCurrent)
}

func TestBadgeNoCandidatesIsNoOp(t *testing.T) {
	store, notifier, svc := newBadgeFixture()
	user := &domain.User{ID: 1}
	store.users[1] = user

	awarded, err := svc.EvaluateBadges(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, awarded)
	assert.Empty(t, notifier.events)
	assert.Nil(t, user.CurrentBadgeID)
}
