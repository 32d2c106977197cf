package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/portfolio-client/internal/adapter"
	"github.com/portfolio-client/internal/auth"
	"github.com/portfolio-client/internal/circuitbreaker"
	apperrors "github.com/portfolio-client/internal/errors"
	"github.com/portfolio-client/internal/freshness"
	"github.com/portfolio-client/internal/logging"
	"github.com/portfolio-client/internal/models"
	"github.com/portfolio-client/internal/retry"
	"github.com/portfolio-client/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	clock   *fakeClock
	api     *mockRemoteAPI
	creds   *mockCredentialStore
	replica *mockReplicaStore
	orch    *SyncOrchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	env := &testEnv{
		clock:   clock,
		api:     &mockRemoteAPI{},
		creds:   &mockCredentialStore{},
		replica: newMockReplica(clock.Now),
	}
	env.creds.token = auth.UnsignedToken(clock.Now().Add(24*time.Hour), nil)
	env.creds.present = true
	env.orch = NewSyncOrchestrator(SyncOrchestratorConfig{
		API:         env.api,
		Credentials: env.creds,
		Replica:     env.replica,
		Policy:      freshness.NewPolicy(6 * time.Hour),
		Clock:       clock.Now,
		Logger:      logging.NewNopLogger(),
	})
	return env
}

func accountsResponse(accounts ...*models.Account) func(context.Context, string) (*models.AccountsResponse, error) {
	return func(context.Context, string) (*models.AccountsResponse, error) {
		return &models.AccountsResponse{Accounts: accounts}, nil
	}
}

func TestLoad_FreshCacheSkipsNetwork(t *testing.T) {
	env := newTestEnv(t)
	syncedAt := env.clock.Now().Add(-2 * time.Hour)
	env.replica.seed(syncedAt, account("B", 20), account("A", 10))

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeServedFromCache, outcome.Kind)
	require.Len(t, outcome.Accounts, 2)
	assert.Equal(t, "A", outcome.Accounts[0].AccountNumber)
	assert.True(t, decimal.NewFromInt(30).Equal(outcome.TotalValue))
	assert.True(t, syncedAt.Equal(outcome.AsOf))
	assert.Equal(t, int32(0), env.api.totalCalls())
	assert.Equal(t, 0, env.replica.mutationCount())
}

func TestLoad_StaleCacheFetchesFromNetwork(t *testing.T) {
	env := newTestEnv(t)
	env.replica.seed(env.clock.Now().Add(-10*time.Hour), account("OLD", 1))
	env.api.fetchFunc = accountsResponse(account("A", 100), account("B", 200), account("C", 300))
	valid := false
	ts := "2024-06-01T11:00:00"
	env.api.cacheInfoFunc = func(context.Context, string) (*models.CacheInfo, error) {
		return &models.CacheInfo{Timestamp: &ts, IsExpired: &valid}, nil
	}
	before, _ := env.replica.SnapshotCount(context.Background())

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeServedFromNetwork, outcome.Kind)
	require.Len(t, outcome.Accounts, 3)
	assert.True(t, decimal.NewFromInt(600).Equal(outcome.TotalValue))
	assert.True(t, env.clock.Now().Equal(outcome.AsOf))
	assert.Nil(t, outcome.Err)
	require.NotNil(t, outcome.ServerCache)
	assert.Equal(t, "Valid", outcome.ServerCache.Status())

	cached, err := env.replica.LoadCachedAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached, 3)
	after, _ := env.replica.SnapshotCount(context.Background())
	assert.Equal(t, before+3, after)
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.api.fetchCalls))
}

func TestLoad_ServerCacheFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.api.fetchFunc = accountsResponse(account("A", 1))
	env.api.cacheInfoFunc = func(context.Context, string) (*models.CacheInfo, error) {
		return nil, apperrors.NewNetworkError("cache info", errors.New("refused"))
	}

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeServedFromNetwork, outcome.Kind)
	assert.Nil(t, outcome.ServerCache)
}

func TestLoad_ForcedNetworkErrorServesExpiredCache(t *testing.T) {
	env := newTestEnv(t)
	syncedAt := env.clock.Now().Add(-40 * time.Hour)
	env.replica.seed(syncedAt, account("A", 10), account("B", 20))
	fetchErr := apperrors.NewNetworkError("fetch accounts", errors.New("connection refused"))
	env.api.fetchFunc = func(context.Context, string) (*models.AccountsResponse, error) {
		return nil, fetchErr
	}

	outcome := env.orch.Load(context.Background(), true)

	assert.Equal(t, OutcomeServedFromExpiredCache, outcome.Kind)
	assert.Len(t, outcome.Accounts, 2)
	assert.True(t, syncedAt.Equal(outcome.AsOf))
	require.Error(t, outcome.Warning)
	assert.True(t, apperrors.Is(outcome.Warning, apperrors.CategoryNetwork))
	assert.Nil(t, outcome.Err)
	assert.Contains(t, outcome.Advisory, "Showing cached data")
	assert.Equal(t, 0, env.replica.mutationCount())
}

func TestLoad_ForcedRefreshIgnoresFreshCache(t *testing.T) {
	env := newTestEnv(t)
	env.replica.seed(env.clock.Now().Add(-time.Minute), account("A", 10))
	env.api.fetchFunc = accountsResponse(account("A", 11))

	outcome := env.orch.Load(context.Background(), true)

	assert.Equal(t, OutcomeServedFromNetwork, outcome.Kind)
	assert.True(t, outcome.Forced)
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.api.fetchCalls))
}

func TestLoad_ExpiredTokenRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	env.creds.token = auth.UnsignedToken(env.clock.Now().Add(-time.Minute), nil)
	env.replica.seed(env.clock.Now().Add(-time.Hour), account("A", 10))

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeAuthenticationRequired, outcome.Kind)
	assert.True(t, apperrors.HasCode(outcome.Err, apperrors.CodeAuthenticationRequired))
	assert.Empty(t, outcome.Accounts)
	assert.Equal(t, int32(0), env.api.totalCalls())
	assert.Equal(t, 0, env.replica.mutationCount())
	assert.False(t, env.orch.IsLoading())
}

func TestLoad_MissingOrUnreadableToken(t *testing.T) {
	env := newTestEnv(t)
	env.creds.token, env.creds.present = "", false
	assert.Equal(t, OutcomeAuthenticationRequired, env.orch.Load(context.Background(), true).Kind)

	env.creds.token, env.creds.present = "garbage", true
	assert.Equal(t, OutcomeAuthenticationRequired, env.orch.Load(context.Background(), true).Kind)

	env.creds.retrieveErr = errors.New("keychain locked")
	assert.Equal(t, OutcomeAuthenticationRequired, env.orch.Load(context.Background(), true).Kind)
	assert.Equal(t, int32(0), env.api.totalCalls())
}

func TestLoad_EmptyCacheServerErrorFails(t *testing.T) {
	env := newTestEnv(t)
	env.api.fetchFunc = func(context.Context, string) (*models.AccountsResponse, error) {
		return nil, apperrors.NewServerError("fetch accounts", http.StatusInternalServerError, "boom")
	}

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.True(t, apperrors.Is(outcome.Err, apperrors.CategoryServer))
	assert.Empty(t, outcome.Accounts)
	assert.NotEmpty(t, outcome.Advisory)
}

func TestLoad_DecodeErrorWithCacheFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.replica.seed(env.clock.Now().Add(-7*time.Hour), account("A", 10))
	env.api.fetchFunc = func(context.Context, string) (*models.AccountsResponse, error) {
		return nil, apperrors.NewDecodeError("fetch accounts", errors.New("unexpected end of JSON input"))
	}

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeServedFromExpiredCache, outcome.Kind)
	assert.True(t, apperrors.Is(outcome.Warning, apperrors.CategoryDecode))
}

func TestLoad_InvalidPayloadWithCacheFallsBack(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"null account", `[null]`},
		{"null account in object", `{"accounts":[null]}`},
		{"null position", `[{"accountNumber":"B","value":"1","positions":[null]}]`},
		{"duplicate account numbers", `[{"accountNumber":"B","value":"1"},{"accountNumber":"B","value":"2"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := adapter.NewPortfolioAPIClient(adapter.PortfolioAPIClientConfig{
				BaseURL: srv.URL,
				Timeout: 2 * time.Second,
				Retry:   &retry.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
				Breaker: &circuitbreaker.Config{Name: "test", MaxFailures: 5, Timeout: time.Minute},
				Logger:  logging.NewNopLogger(),
			})
			require.NoError(t, err)

			env := newTestEnv(t)
			env.replica.seed(env.clock.Now().Add(-7*time.Hour), account("A", 10))
			env.api.fetchFunc = client.FetchAccounts

			var outcome *LoadOutcome
			require.NotPanics(t, func() {
				outcome = env.orch.Load(context.Background(), false)
			})

			assert.Equal(t, OutcomeServedFromExpiredCache, outcome.Kind)
			require.Len(t, outcome.Accounts, 1)
			assert.Equal(t, "A", outcome.Accounts[0].AccountNumber)
			assert.True(t, apperrors.Is(outcome.Warning, apperrors.CategoryDecode), "warning: %v", outcome.Warning)
			assert.Equal(t, 0, env.replica.mutationCount())
			assert.False(t, env.orch.IsLoading())
		})
	}
}

func TestLoad_RejectedToken(t *testing.T) {
	rejected := func(context.Context, string) (*models.AccountsResponse, error) {
		return nil, apperrors.NewAuthenticationFailedError(http.StatusUnauthorized, "token revoked")
	}

	t.Run("without cache", func(t *testing.T) {
		env := newTestEnv(t)
		env.api.fetchFunc = rejected
		outcome := env.orch.Load(context.Background(), false)
		assert.Equal(t, OutcomeAuthenticationRequired, outcome.Kind)
		assert.True(t, apperrors.HasCode(outcome.Err, apperrors.CodeAuthenticationFailed))
	})

	t.Run("with cache", func(t *testing.T) {
		env := newTestEnv(t)
		env.replica.seed(env.clock.Now().Add(-8*time.Hour), account("A", 10))
		env.api.fetchFunc = rejected
		outcome := env.orch.Load(context.Background(), false)
		assert.Equal(t, OutcomeServedFromExpiredCache, outcome.Kind)
		assert.True(t, apperrors.Is(outcome.Warning, apperrors.CategoryAuthentication))
	})
}

func TestLoad_StorageFailureLeavesReplicaIntact(t *testing.T) {
	env := newTestEnv(t)
	env.replica.seed(env.clock.Now().Add(-10*time.Hour), account("A", 10))
	env.replica.replaceErr = apperrors.NewStorageError("replace accounts", errors.New("disk full"))
	env.api.fetchFunc = accountsResponse(account("B", 20))

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.True(t, apperrors.Is(outcome.Err, apperrors.CategoryStorage))
	cached, err := env.replica.LoadCachedAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "A", cached[0].AccountNumber)
}

func TestLoad_UnreadableFreshnessFetches(t *testing.T) {
	env := newTestEnv(t)
	env.replica.readErr = errors.New("database is locked")
	env.api.fetchFunc = accountsResponse(account("A", 1))

	outcome := env.orch.Load(context.Background(), false)

	assert.Equal(t, OutcomeServedFromNetwork, outcome.Kind)
}

func TestLoad_CoalescesOverlappingCalls(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.api.fetchFunc = func(context.Context, string) (*models.AccountsResponse, error) {
		once.Do(func() { close(started) })
		<-release
		return &models.AccountsResponse{Accounts: []*models.Account{account("A", 1)}}, nil
	}

	ctx := context.Background()
	first := make(chan *LoadOutcome, 1)
	go func() { first <- env.orch.Load(ctx, false) }()
	<-started
	assert.True(t, env.orch.IsLoading())

	const callers = 4
	var wg sync.WaitGroup
	outcomes := make([]*LoadOutcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = env.orch.Load(ctx, false)
		}(i)
	}
	// give the callers time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	leader := <-first

	for _, o := range outcomes {
		assert.Equal(t, leader.Sequence, o.Sequence)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.api.fetchCalls))
	assert.False(t, env.replica.overlapped.Load())
	assert.False(t, env.orch.IsLoading())
}

func TestLoad_EventsAndLatest(t *testing.T) {
	env := newTestEnv(t)
	env.api.fetchFunc = accountsResponse(account("A", 1))
	assert.Nil(t, env.orch.Latest())

	first := env.orch.Load(context.Background(), false)
	second := env.orch.Load(context.Background(), false)

	assert.Greater(t, second.Sequence, first.Sequence)
	assert.Equal(t, OutcomeServedFromCache, second.Kind)
	assert.Same(t, second, env.orch.Latest())

	var types []EventType
	for len(env.orch.Events()) > 0 {
		ev := <-env.orch.Events()
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventLoadStarted, EventLoadCompleted, EventLoadStarted, EventLoadCompleted}, types)
}

// drainEvents counts the buffered events by type
func drainEvents(o *SyncOrchestrator) map[EventType]int {
	counts := make(map[EventType]int)
	for {
		select {
		case ev := <-o.Events():
			counts[ev.Type]++
		default:
			return counts
		}
	}
}

func TestLoad_ClearsLoadingOnEveryBranch(t *testing.T) {
	networkDown := func(context.Context, string) (*models.AccountsResponse, error) {
		return nil, apperrors.NewNetworkError("fetch accounts", errors.New("connection refused"))
	}

	tests := []struct {
		name  string
		setup func(env *testEnv)
		want  OutcomeKind
	}{
		{
			name: "fresh replica",
			setup: func(env *testEnv) {
				env.replica.seed(env.clock.Now().Add(-time.Hour), account("A", 10))
			},
			want: OutcomeServedFromCache,
		},
		{
			name: "network",
			setup: func(env *testEnv) {
				env.api.fetchFunc = accountsResponse(account("A", 10))
			},
			want: OutcomeServedFromNetwork,
		},
		{
			name: "expired replica",
			setup: func(env *testEnv) {
				env.replica.seed(env.clock.Now().Add(-10*time.Hour), account("A", 10))
				env.api.fetchFunc = networkDown
			},
			want: OutcomeServedFromExpiredCache,
		},
		{
			name: "no replica",
			setup: func(env *testEnv) {
				env.api.fetchFunc = networkDown
			},
			want: OutcomeFailure,
		},
		{
			name: "storage failure",
			setup: func(env *testEnv) {
				env.replica.seed(env.clock.Now().Add(-10*time.Hour), account("A", 10))
				env.replica.replaceErr = apperrors.NewStorageError("replace accounts", errors.New("disk full"))
				env.api.fetchFunc = accountsResponse(account("B", 20))
			},
			want: OutcomeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env)

			outcome := env.orch.Load(context.Background(), false)

			assert.Equal(t, tt.want, outcome.Kind, "err: %v", outcome.Err)
			assert.False(t, env.orch.IsLoading())
			events := drainEvents(env.orch)
			assert.Equal(t, 1, events[EventLoadStarted])
			assert.Equal(t, 1, events[EventLoadCompleted])
		})
	}
}

func TestPublish_DiscardsSupersededOutcome(t *testing.T) {
	env := newTestEnv(t)

	newer := &LoadOutcome{Kind: OutcomeServedFromNetwork, Sequence: 5}
	older := &LoadOutcome{Kind: OutcomeFailure, Sequence: 3}
	env.orch.publish(newer)
	env.orch.publish(older)

	assert.Same(t, newer, env.orch.Latest())
	assert.Len(t, env.orch.Events(), 1)
}

func TestEvents_FullBufferDoesNotBlock(t *testing.T) {
	clock := newFakeClock()
	creds := &mockCredentialStore{}
	orch := NewSyncOrchestrator(SyncOrchestratorConfig{
		API:         &mockRemoteAPI{},
		Credentials: creds,
		Replica:     newMockReplica(clock.Now),
		Clock:       clock.Now,
		Logger:      logging.NewNopLogger(),
		EventBuffer: 1,
	})

	for i := 0; i < 5; i++ {
		orch.Load(context.Background(), false)
	}
	assert.Len(t, orch.Events(), 1)
	assert.Equal(t, uint64(5), orch.Latest().Sequence)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.creds.token, env.creds.present = "", false
	fresh := auth.UnsignedToken(env.clock.Now().Add(12*time.Hour), nil)
	env.api.loginFunc = func(ctx context.Context, user, pass string) (string, error) {
		if user == "demo" && pass == "secret" {
			return fresh, nil
		}
		return "", apperrors.NewAuthenticationFailedError(http.StatusUnauthorized, "bad credentials")
	}
	ctx := context.Background()

	err := env.orch.Login(ctx, "", "secret")
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	err = env.orch.Login(ctx, "demo", "wrong")
	assert.True(t, apperrors.Is(err, apperrors.CategoryAuthentication))
	_, ok, _ := env.creds.Retrieve(ctx)
	assert.False(t, ok)

	require.NoError(t, env.orch.Login(ctx, "demo", "secret"))
	token, ok, _ := env.creds.Retrieve(ctx)
	assert.True(t, ok)
	assert.Equal(t, fresh, token)
}

func TestRelogin_ForcesRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.replica.seed(env.clock.Now().Add(-time.Minute), account("A", 1))
	env.api.loginFunc = func(context.Context, string, string) (string, error) {
		return auth.UnsignedToken(env.clock.Now().Add(time.Hour), map[string]interface{}{"sub": "demo"}), nil
	}
	env.api.fetchFunc = accountsResponse(account("A", 2))

	outcome, err := env.orch.Relogin(context.Background(), "demo", "secret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeServedFromNetwork, outcome.Kind)
}

func TestLogout_KeepsReplica(t *testing.T) {
	env := newTestEnv(t)
	env.replica.seed(env.clock.Now(), account("A", 1))

	require.NoError(t, env.orch.Logout(context.Background()))

	outcome := env.orch.Load(context.Background(), false)
	assert.Equal(t, OutcomeAuthenticationRequired, outcome.Kind)
	n, _ := env.replica.AccountCount(context.Background())
	assert.Equal(t, 1, n)
}

func TestServerCacheInfo(t *testing.T) {
	env := newTestEnv(t)
	env.api.cacheInfoFunc = func(context.Context, string) (*models.CacheInfo, error) {
		return &models.CacheInfo{Key: "accounts:demo"}, nil
	}

	info, err := env.orch.ServerCacheInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No cache", info.Status())

	env.creds.token, env.creds.present = "", false
	_, err = env.orch.ServerCacheInfo(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.CategoryAuthentication))
}

func TestRefreshServerCache_FailureDoesNotBlockLoad(t *testing.T) {
	env := newTestEnv(t)
	env.api.refreshFunc = func(context.Context, string) (*models.CacheOperationResult, error) {
		return nil, apperrors.NewServerError("refresh cache", http.StatusBadGateway, "")
	}
	env.api.fetchFunc = accountsResponse(account("A", 1))

	outcome, err := env.orch.RefreshServerCache(context.Background())
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, OutcomeServedFromNetwork, outcome.Kind)
}

func TestInvalidateAllCaches(t *testing.T) {
	env := newTestEnv(t)
	env.replica.seed(env.clock.Now(), account("OLD", 1))
	env.api.invalidateFunc = func(context.Context, string) (*models.CacheOperationResult, error) {
		return nil, apperrors.NewNetworkError("invalidate cache", errors.New("timeout"))
	}
	env.api.fetchFunc = accountsResponse(account("NEW", 2))

	outcome, err := env.orch.InvalidateAllCaches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeServedFromNetwork, outcome.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.api.invalidateCalls))

	history, err := env.orch.History(context.Background(), "OLD")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistoryAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.api.fetchFunc = accountsResponse(account("A", 1), account("B", 2))
	ctx := context.Background()

	env.orch.Load(ctx, true)
	env.clock.Advance(time.Hour)
	env.orch.Load(ctx, true)

	history, err := env.orch.History(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = env.orch.History(ctx, " ")
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	env.clock.Advance(30 * time.Minute)
	status, err := env.orch.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncAt)
	assert.Equal(t, 30*time.Minute, status.Age)
	assert.True(t, status.Fresh)
	assert.Equal(t, 2, status.AccountsCount)
	assert.Equal(t, 4, status.SnapshotCount)
	assert.Equal(t, storage.DefaultSnapshotRetention, status.SnapshotRetention)
	assert.True(t, status.LoggedIn)
}

func TestSyncOrchestrator_SQLiteReplica(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")
	db, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.RunMigrations(storage.DialectSQLite, path))

	clock := newFakeClock()
	replica := storage.NewReplicaStore(storage.ReplicaStoreConfig{
		DB:      db,
		Dialect: storage.DialectSQLite,
		Clock:   clock.Now,
		Logger:  logging.NewNopLogger(),
	})
	api := &mockRemoteAPI{fetchFunc: accountsResponse(account("A", 100), account("B", 200), account("C", 300))}
	creds := auth.NewMemoryCredentialStore()
	ctx := context.Background()
	require.NoError(t, creds.Save(ctx, auth.UnsignedToken(clock.Now().Add(time.Hour), nil)))

	orch := NewSyncOrchestrator(SyncOrchestratorConfig{
		API:                api,
		Credentials:        creds,
		Replica:            replica,
		Clock:              clock.Now,
		Logger:             logging.NewNopLogger(),
		ServerCacheTimeout: -1,
	})

	first := orch.Load(ctx, false)
	require.Equal(t, OutcomeServedFromNetwork, first.Kind)

	clock.Advance(time.Hour)
	second := orch.Load(ctx, false)
	require.Equal(t, OutcomeServedFromCache, second.Kind)
	require.Len(t, second.Accounts, 3)
	assert.Len(t, second.Accounts[0].Positions, 1)
	assert.True(t, decimal.NewFromInt(600).Equal(second.TotalValue))
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.fetchCalls))

	count, err := replica.SnapshotCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	clock.Advance(10 * time.Hour)
	api.fetchFunc = func(context.Context, string) (*models.AccountsResponse, error) {
		return nil, apperrors.NewNetworkError("fetch accounts", errors.New("offline"))
	}
	// the token is long expired by now
	require.NoError(t, creds.Save(ctx, auth.UnsignedToken(clock.Now().Add(time.Hour), nil)))
	third := orch.Load(ctx, false)
	assert.Equal(t, OutcomeServedFromExpiredCache, third.Kind)
	assert.Len(t, third.Accounts, 3)

	status, err := orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultSnapshotRetention, status.SnapshotRetention)
	assert.False(t, status.Fresh)
}
