package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portfolio-client/internal/models"
	"github.com/portfolio-client/internal/storage"
	"github.com/shopspring/decimal"
)

// Mock collaborators for testing

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockRemoteAPI struct {
	loginFunc       func(ctx context.Context, user, pass string) (string, error)
	fetchFunc       func(ctx context.Context, token string) (*models.AccountsResponse, error)
	cacheInfoFunc   func(ctx context.Context, token string) (*models.CacheInfo, error)
	invalidateFunc  func(ctx context.Context, token string) (*models.CacheOperationResult, error)
	refreshFunc     func(ctx context.Context, token string) (*models.CacheOperationResult, error)
	loginCalls      int32
	fetchCalls      int32
	cacheInfoCalls  int32
	invalidateCalls int32
	refreshCalls    int32
}

func (m *mockRemoteAPI) Login(ctx context.Context, user, pass string) (string, error) {
	atomic.AddInt32(&m.loginCalls, 1)
	if m.loginFunc == nil {
		return "", errors.New("login not configured")
	}
	return m.loginFunc(ctx, user, pass)
}

func (m *mockRemoteAPI) FetchAccounts(ctx context.Context, token string) (*models.AccountsResponse, error) {
	atomic.AddInt32(&m.fetchCalls, 1)
	if m.fetchFunc == nil {
		return nil, errors.New("fetch not configured")
	}
	return m.fetchFunc(ctx, token)
}

func (m *mockRemoteAPI) GetCacheInfo(ctx context.Context, token string) (*models.CacheInfo, error) {
	atomic.AddInt32(&m.cacheInfoCalls, 1)
	if m.cacheInfoFunc == nil {
		return nil, errors.New("cache info not configured")
	}
	return m.cacheInfoFunc(ctx, token)
}

func (m *mockRemoteAPI) InvalidateCache(ctx context.Context, token string) (*models.CacheOperationResult, error) {
	atomic.AddInt32(&m.invalidateCalls, 1)
	if m.invalidateFunc == nil {
		return &models.CacheOperationResult{Success: true}, nil
	}
	return m.invalidateFunc(ctx, token)
}

func (m *mockRemoteAPI) RefreshCache(ctx context.Context, token string) (*models.CacheOperationResult, error) {
	atomic.AddInt32(&m.refreshCalls, 1)
	if m.refreshFunc == nil {
		return &models.CacheOperationResult{Success: true}, nil
	}
	return m.refreshFunc(ctx, token)
}

func (m *mockRemoteAPI) totalCalls() int32 {
	return atomic.LoadInt32(&m.loginCalls) + atomic.LoadInt32(&m.fetchCalls) +
		atomic.LoadInt32(&m.cacheInfoCalls) + atomic.LoadInt32(&m.invalidateCalls) +
		atomic.LoadInt32(&m.refreshCalls)
}

type mockCredentialStore struct {
	mu          sync.Mutex
	token       string
	present     bool
	retrieveErr error
}

func (m *mockCredentialStore) Save(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.present = token, true
	return nil
}

func (m *mockCredentialStore) Retrieve(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retrieveErr != nil {
		return "", false, m.retrieveErr
	}
	return m.token, m.present, nil
}

func (m *mockCredentialStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.present = "", false
	return nil
}

// mockReplicaStore keeps accounts and snapshots in memory and counts writes
type mockReplicaStore struct {
	mu         sync.Mutex
	clock      func() time.Time
	accounts   []*models.Account
	snapshots  []*models.Snapshot
	mutations  int
	replaceErr error
	readErr    error
	concurrent int32
	overlapped atomic.Bool
}

func newMockReplica(clock func() time.Time) *mockReplicaStore {
	return &mockReplicaStore{clock: clock}
}

// seed stores accounts as if synced at capturedAt, without counting a mutation
func (m *mockReplicaStore) seed(capturedAt time.Time, accounts ...*models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts
	for _, a := range accounts {
		m.snapshots = append(m.snapshots, models.NewSnapshot(a, capturedAt))
	}
}

func (m *mockReplicaStore) LoadCachedAccounts(ctx context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([]*models.Account, len(m.accounts))
	copy(out, m.accounts)
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

func (m *mockReplicaStore) MostRecentSnapshotTimestamp(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return time.Time{}, false, m.readErr
	}
	var latest time.Time
	for _, s := range m.snapshots {
		if s.CapturedAt.After(latest) {
			latest = s.CapturedAt
		}
	}
	return latest, !latest.IsZero(), nil
}

func (m *mockReplicaStore) ReplaceAll(ctx context.Context, accounts []*models.Account) error {
	if atomic.AddInt32(&m.concurrent, 1) > 1 {
		m.overlapped.Store(true)
	}
	defer atomic.AddInt32(&m.concurrent, -1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.mutations++
	m.accounts = accounts
	now := m.clock()
	for _, a := range accounts {
		m.snapshots = append(m.snapshots, models.NewSnapshot(a, now))
	}
	if len(m.snapshots) > 20 {
		m.snapshots = m.snapshots[len(m.snapshots)-20:]
	}
	return nil
}

func (m *mockReplicaStore) Snapshots(ctx context.Context, accountNumber string) ([]*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Snapshot
	for _, s := range m.snapshots {
		if s.AccountNumber == accountNumber {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockReplicaStore) SnapshotCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots), nil
}

func (m *mockReplicaStore) AccountCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts), nil
}

func (m *mockReplicaStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations++
	m.accounts = nil
	m.snapshots = nil
	return nil
}

func (m *mockReplicaStore) Retention() int { return storage.DefaultSnapshotRetention }

func (m *mockReplicaStore) mutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

func account(number string, value int64) *models.Account {
	return &models.Account{
		AccountNumber: number,
		Label:         "Account " + number,
		Value:         decimal.NewFromInt(value),
		Positions: []*models.Position{
			{ISIN: number + "-ISIN", InstrumentName: "Fund " + number, MarketValue: decimal.NewFromInt(value)},
		},
	}
}
