package application

import (
	"context"
	"time"

	"loyalty/internal/service/loyalty/domain"
)

// Queries 是供展示层使用的只读查询面。
// 这里没有任何变更入口，全部变更都走评估器/编排器。
type Queries struct {
	store domain.Store
}

func NewQueries(store domain.Store) *Queries {
	return &Queries{store: store}
}

// AchievementProgressView 是单个成就带用户进度的投影。
type AchievementProgressView struct {
	AchievementID uint                   `json:"achievementId"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Type          domain.AchievementType `json:"type"`
	Tier          domain.AchievementTier `json:"tier"`
	Points        int                    `json:"points"`
	Icon          string                 `json:"icon"`
	Target        float64                `json:"target"`
	Progress      float64                `json:"progress"`
	Percentage    float64                `json:"percentage"`
	Unlocked      bool                   `json:"unlocked"`
	UnlockedAt    *time.Time             `json:"unlockedAt,omitempty"`
}

// AchievementProgress 返回全部上架成就及该用户的进度。
func (q *Queries) AchievementProgress(ctx context.Context, userID uint) ([]AchievementProgressView, error) {
	achievements, err := q.store.Achievements().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.store.Achievements().ListProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	progressByID := make(map[uint]*domain.UserAchievement, len(rows))
	for _, row := range rows {
		progressByID[row.AchievementID] = row
	}

	views := make([]AchievementProgressView, 0, len(achievements))
	for _, achievement := range achievements {
		view := AchievementProgressView{
			AchievementID: achievement.ID,
			Name:          achievement.Name,
			Description:   achievement.Description,
			Type:          achievement.Type,
			Tier:          achievement.Tier,
			Points:        achievement.Points,
			Icon:          achievement.Icon,
			Target:        achievement.Criteria.Target,
		}
		if row, ok := progressByID[achievement.ID]; ok {
			view.Progress = row.Progress
			view.Unlocked = row.Unlocked()
			view.UnlockedAt = row.UnlockedAt
		}
		view.Percentage = progressPercent(view.Progress, achievement.Criteria.Target, view.Unlocked)
		views = append(views, view)
	}
	return views, nil
}

// RecentlyUnlocked 按解锁时间倒序返回最近解锁的成就。
func (q *Queries) RecentlyUnlocked(ctx context.Context, userID uint, limit int) ([]AchievementProgressView, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := q.store.Achievements().ListRecentUnlocks(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	achievements, err := q.store.Achievements().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*domain.Achievement, len(achievements))
	for _, achievement := range achievements {
		byID[achievement.ID] = achievement
	}

	views := make([]AchievementProgressView, 0, len(rows))
	for _, row := range rows {
		achievement, ok := byID[row.AchievementID]
		if !ok {
			continue
		}
		views = append(views, AchievementProgressView{
			AchievementID: achievement.ID,
			Name:          achievement.Name,
			Tier:          achievement.Tier,
			Points:        achievement.Points,
			Icon:          achievement.Icon,
			Target:        achievement.Criteria.Target,
			Progress:      row.Progress,
			Percentage:    100,
			Unlocked:      true,
			UnlockedAt:    row.UnlockedAt,
		})
	}
	return views, nil
}

// RequirementProgress 是徽章单项门槛的进度。
type RequirementProgress struct {
	Current    float64 `json:"current"`
	Required   float64 `json:"required"`
	Percentage float64 `json:"percentage"`
}

// BadgeProgressView 是单个徽章带用户进度的投影。
type BadgeProgressView struct {
	BadgeID      uint                `json:"badgeId"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Level        int                 `json:"level"`
	Icon         string              `json:"icon"`
	Color        string              `json:"color"`
	Points       RequirementProgress `json:"points"`
	Achievements RequirementProgress `json:"achievements"`
	Earned       bool                `json:"earned"`
	IsCurrent    bool                `json:"isCurrent"`
}

// BadgeProgress 返回全部上架徽章及该用户的达成进度，按等级升序。
func (q *Queries) BadgeProgress(ctx context.Context, userID uint) ([]BadgeProgressView, error) {
	badges, err := q.store.Badges().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	user, err := q.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	points, err := q.store.Achievements().SumUnlockedPoints(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := q.store.Achievements().CountUnlocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	earnedRows, err := q.store.Badges().ListEarned(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned := make(map[uint]bool, len(earnedRows))
	for _, row := range earnedRows {
		earned[row.BadgeID] = true
	}

	views := make([]BadgeProgressView, 0, len(badges))
	for _, badge := range badges {
		view := BadgeProgressView{
			BadgeID:     badge.ID,
			Name:        badge.Name,
			Description: badge.Description,
			Level:       badge.Level,
			Icon:        badge.Icon,
			Color:       badge.Color,
			Points: RequirementProgress{
				Current:    float64(points),
				Required:   float64(badge.PointsRequired),
				Percentage: progressPercent(float64(points), float64(badge.PointsRequired), false),
			},
			Achievements: RequirementProgress{
				Current:    float64(count),
				Required:   float64(badge.AchievementsRequired),
				Percentage: progressPercent(float64(count), float64(badge.AchievementsRequired), false),
			},
			Earned:    earned[badge.ID],
			IsCurrent: user.CurrentBadgeID != nil && *user.CurrentBadgeID == badge.ID,
		}
		views = append(views, view)
	}
	return views, nil
}

// NextBadge 返回用户当前等级之上的下一个徽章，没有更高徽章时返回 (nil, nil)。
func (q *Queries) NextBadge(ctx context.Context, userID uint) (*domain.Badge, error) {
	user, err := q.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	level := domain.BadgeLevelNone
	if user.CurrentBadgeID != nil {
		badge, err := q.store.Badges().FindByID(ctx, *user.CurrentBadgeID)
		if err != nil {
			return nil, err
		}
		level = badge.Level
	}
	return q.store.Badges().NextAbove(ctx, level)
}

// BadgeHistoryEntry 是徽章获得历史的一条记录。
type BadgeHistoryEntry struct {
	BadgeID   uint      `json:"badgeId"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	Icon      string    `json:"icon"`
	EarnedAt  time.Time `json:"earnedAt"`
	IsCurrent bool      `json:"isCurrent"`
}

// BadgeHistory 按获得时间倒序返回用户的徽章历史。
func (q *Queries) BadgeHistory(ctx context.Context, userID uint) ([]BadgeHistoryEntry, error) {
	rows, err := q.store.Badges().ListEarned(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]BadgeHistoryEntry, 0, len(rows))
	for _, row := range rows {
		badge, err := q.store.Badges().FindByID(ctx, row.BadgeID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, BadgeHistoryEntry{
			BadgeID:   badge.ID,
			Name:      badge.Name,
			Level:     badge.Level,
			Icon:      badge.Icon,
			EarnedAt:  row.EarnedAt,
			IsCurrent: row.IsCurrent,
		})
	}
	return entries, nil
}

// CashbackSummary 是用户返现的汇总投影: 各状态的合计与最近交易。
type CashbackSummary struct {
	TotalEarned        float64                       `json:"totalEarned"`
	Pending            float64                       `json:"pending"`
	Completed          float64                       `json:"completed"`
	Failed             float64                       `json:"failed"`
	TransactionCount   int                           `json:"transactionCount"`
	RecentTransactions []*domain.CashbackTransaction `json:"recentTransactions"`
}

// GetCashbackSummary 汇总用户的返现情况。
func (q *Queries) GetCashbackSummary(ctx context.Context, userID uint) (*CashbackSummary, error) {
	user, err := q.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending, err := q.store.Cashbacks().SumAmountByStatus(ctx, userID, domain.CashbackStatusPending)
	if err != nil {
		return nil, err
	}
	completed, err := q.store.Cashbacks().SumAmountByStatus(ctx, userID, domain.CashbackStatusCompleted)
	if err != nil {
		return nil, err
	}
	failed, err := q.store.Cashbacks().SumAmountByStatus(ctx, userID, domain.CashbackStatusFailed)
	if err != nil {
		return nil, err
	}
	count, err := q.store.Cashbacks().CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := q.store.Cashbacks().ListRecent(ctx, userID, 10)
	if err != nil {
		return nil, err
	}

	return &CashbackSummary{
		TotalEarned:        user.TotalCashback,
		Pending:            pending,
		Completed:          completed,
		Failed:             failed,
		TransactionCount:   count,
		RecentTransactions: recent,
	}, nil
}

// progressPercent 把进度换算为 0~100 的百分比。
// 目标为零或负数的门槛视为已满足。
func progressPercent(current, required float64, unlocked bool) float64 {
	if unlocked || required <= 0 {
		return 100
	}
	pct := current / required * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
