package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"loyalty/internal/service/loyalty/domain"
	"loyalty/internal/service/loyalty/domain/port"
)

// fakeStore 是 domain.Store 的内存实现，供应用层测试使用。
// Transaction 直接执行 fn，不模拟回滚；需要失败路径时用 fail* 开关注入。
type fakeStore struct {
	mu sync.Mutex

	users        map[uint]*domain.User
	achievements []*domain.Achievement
	progress     map[[2]uint]*domain.UserAchievement
	badges       []*domain.Badge
	earned       map[[2]uint]*domain.UserBadge
	purchases    map[uint]*domain.Purchase
	cashbacks    map[uint]*domain.CashbackTransaction

	nextCashbackID uint

	failListCandidates error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[uint]*domain.User),
		progress:  make(map[[2]uint]*domain.UserAchievement),
		earned:    make(map[[2]uint]*domain.UserBadge),
		purchases: make(map[uint]*domain.Purchase),
		cashbacks: make(map[uint]*domain.CashbackTransaction),
	}
}

func (s *fakeStore) Users() domain.UserRepository               { return (*fakeUserRepo)(s) }
func (s *fakeStore) Achievements() domain.AchievementRepository { return (*fakeAchievementRepo)(s) }
func (s *fakeStore) Badges() domain.BadgeRepository             { return (*fakeBadgeRepo)(s) }
func (s *fakeStore) Purchases() domain.PurchaseRepository       { return (*fakePurchaseRepo)(s) }
func (s *fakeStore) Cashbacks() domain.CashbackRepository       { return (*fakeCashbackRepo)(s) }

func (s *fakeStore) Transaction(ctx context.Context, fn func(tx domain.Store) error) error {
	return fn(s)
}

// --- users ---

type fakeUserRepo fakeStore

func (r *fakeUserRepo) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) Save(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

// --- achievements ---

type fakeAchievementRepo fakeStore

func (r *fakeAchievementRepo) ListActive(ctx context.Context) ([]*domain.Achievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.Achievement
	for _, a := range r.achievements {
		if a.IsActive {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *fakeAchievementRepo) ListActiveNotUnlocked(ctx context.Context, userID uint) ([]*domain.Achievement, error) {
	if r.failListCandidates != nil {
		return nil, r.failListCandidates
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.Achievement
	for _, a := range r.achievements {
		if !a.IsActive {
			continue
		}
		if row, ok := r.progress[[2]uint{userID, a.ID}]; ok && row.Unlocked() {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (r *fakeAchievementRepo) GetProgress(ctx context.Context, userID, achievementID uint) (*domain.UserAchievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.progress[[2]uint{userID, achievementID}]
	if !ok {
		return nil, nil
	}
	clone := *row
	return &clone, nil
}

func (r *fakeAchievementRepo) SaveProgress(ctx context.Context, progress *domain.UserAchievement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *progress
	r.progress[[2]uint{progress.UserID, progress.AchievementID}] = &clone
	return nil
}

func (r *fakeAchievementRepo) ListProgress(ctx context.Context, userID uint) ([]*domain.UserAchievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.UserAchievement
	for key, row := range r.progress {
		if key[0] == userID {
			clone := *row
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeAchievementRepo) ListRecentUnlocks(ctx context.Context, userID uint, limit int) ([]*domain.UserAchievement, error) {
	rows, _ := r.ListProgress(ctx, userID)
	var unlocked []*domain.UserAchievement
	for _, row := range rows {
		if row.Unlocked() {
			unlocked = append(unlocked, row)
		}
	}
	sort.Slice(unlocked, func(i, j int) bool {
		return unlocked[i].UnlockedAt.After(*unlocked[j].UnlockedAt)
	})
	if len(unlocked) > limit {
		unlocked = unlocked[:limit]
	}
	return unlocked, nil
}

func (r *fakeAchievementRepo) SumUnlockedPoints(ctx context.Context, userID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, a := range r.achievements {
		if row, ok := r.progress[[2]uint{userID, a.ID}]; ok && row.Unlocked() {
			total += a.Points
		}
	}
	return total, nil
}

func (r *fakeAchievementRepo) CountUnlocked(ctx context.Context, userID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key, row := range r.progress {
		if key[0] == userID && row.Unlocked() {
			count++
		}
	}
	return count, nil
}

// --- badges ---

type fakeBadgeRepo fakeStore

func (r *fakeBadgeRepo) FindByID(ctx context.Context, id uint) (*domain.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.badges {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, domain.ErrBadgeNotFound
}

func (r *fakeBadgeRepo) ListActive(ctx context.Context) ([]*domain.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.Badge
	for _, b := range r.badges {
		if b.IsActive {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Level < result[j].Level })
	return result, nil
}

func (r *fakeBadgeRepo) ListActiveNotEarned(ctx context.Context, userID uint) ([]*domain.Badge, error) {
	all, _ := r.ListActive(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.Badge
	for _, b := range all {
		if _, ok := r.earned[[2]uint{userID, b.ID}]; !ok {
			result = append(result, b)
		}
	}
	return result, nil
}

func (r *fakeBadgeRepo) NextAbove(ctx context.Context, level int) (*domain.Badge, error) {
	all, _ := r.ListActive(ctx)
	for _, b := range all {
		if b.Level > level {
			return b, nil
		}
	}
	return nil, nil
}

func (r *fakeBadgeRepo) Award(ctx context.Context, earned *domain.UserBadge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]uint{earned.UserID, earned.BadgeID}
	if _, ok := r.earned[key]; ok {
		return nil
	}
	clone := *earned
	r.earned[key] = &clone
	return nil
}

func (r *fakeBadgeRepo) SetCurrent(ctx context.Context, userID, badgeID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, row := range r.earned {
		if key[0] == userID {
			row.IsCurrent = key[1] == badgeID
		}
	}
	return nil
}

func (r *fakeBadgeRepo) ListEarned(ctx context.Context, userID uint) ([]*domain.UserBadge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.UserBadge
	for key, row := range r.earned {
		if key[0] == userID {
			clone := *row
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EarnedAt.After(result[j].EarnedAt) })
	return result, nil
}

// --- purchases ---

type fakePurchaseRepo fakeStore

func (r *fakePurchaseRepo) FindByID(ctx context.Context, id uint) (*domain.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return nil, domain.ErrPurchaseNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakePurchaseRepo) CountCompleted(ctx context.Context, userID uint, excludeID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, p := range r.purchases {
		if p.UserID == userID && p.Status == domain.PurchaseStatusCompleted && p.ID != excludeID {
			count++
		}
	}
	return count, nil
}

func (r *fakePurchaseRepo) SumCompletedAmount(ctx context.Context, userID uint, excludeID uint) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0.0
	for _, p := range r.purchases {
		if p.UserID == userID && p.Status == domain.PurchaseStatusCompleted && p.ID != excludeID {
			total += p.Amount
		}
	}
	return total, nil
}

func (r *fakePurchaseRepo) MarkProcessed(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.purchases[id]; ok {
		p.ProcessedForLoyalty = true
	}
	return nil
}

// --- cashbacks ---

type fakeCashbackRepo fakeStore

func (r *fakeCashbackRepo) Create(ctx context.Context, txn *domain.CashbackTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCashbackID++
	txn.ID = r.nextCashbackID
	txn.CreatedAt = time.Now()
	clone := *txn
	r.cashbacks[txn.ID] = &clone
	return nil
}

func (r *fakeCashbackRepo) Update(ctx context.Context, txn *domain.CashbackTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *txn
	r.cashbacks[txn.ID] = &clone
	return nil
}

func (r *fakeCashbackRepo) FindByID(ctx context.Context, id uint) (*domain.CashbackTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.cashbacks[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	clone := *txn
	return &clone, nil
}

func (r *fakeCashbackRepo) FindByPurchase(ctx context.Context, purchaseID uint) (*domain.CashbackTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.cashbacks {
		if txn.PurchaseID != nil && *txn.PurchaseID == purchaseID {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeCashbackRepo) ListRecent(ctx context.Context, userID uint, limit int) ([]*domain.CashbackTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.CashbackTransaction
	for _, txn := range r.cashbacks {
		if txn.UserID == userID {
			clone := *txn
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeCashbackRepo) SumAmountByStatus(ctx context.Context, userID uint, status domain.CashbackStatus) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0.0
	for _, txn := range r.cashbacks {
		if txn.UserID == userID && txn.Status == status {
			total += txn.Amount
		}
	}
	return total, nil
}

func (r *fakeCashbackRepo) CountByUser(ctx context.Context, userID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, txn := range r.cashbacks {
		if txn.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *fakeCashbackRepo) ListRetryable(ctx context.Context, before time.Time, maxRetries, limit int) ([]*domain.CashbackTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.CashbackTransaction
	for _, txn := range r.cashbacks {
		if txn.Status != domain.CashbackStatusFailed || txn.RetryCount >= maxRetries {
			continue
		}
		if txn.ProcessedAt == nil || !txn.ProcessedAt.Before(before) {
			continue
		}
		clone := *txn
		result = append(result, &clone)
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- ports ---

// fakeNotifier 记录发布的事件。
type fakeNotifier struct {
	mu     sync.Mutex
	events []*domain.NotificationEvent
	err    error
}

func (n *fakeNotifier) Publish(ctx context.Context, event *domain.NotificationEvent) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) byType(t domain.NotificationType) []*domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []*domain.NotificationEvent
	for _, e := range n.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

// fakeProvider 按脚本返回结果。results 耗尽后默认成功。
type fakeProvider struct {
	mu      sync.Mutex
	results []*port.TransferResult
	errs    []error
	calls   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Transfer(ctx context.Context, user *domain.User, amount float64, currency string, metadata map[string]interface{}) (*port.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return &port.TransferResult{Success: true, Reference: "REF_OK"}, nil
}

// fakeLocker 统计加锁/解锁次数。fail 为真时拒绝加锁。
type fakeLocker struct {
	mu      sync.Mutex
	locks   int
	unlocks int
	fail    bool
}

func (l *fakeLocker) Lock(ctx context.Context, userID uint) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, domain.ErrLockNotAcquired
	}
	l.locks++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocks++
	}, nil
}
