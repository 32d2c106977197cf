// Package service contains the sync orchestrator, which decides for every
// load whether accounts come from the local replica or the remote service.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/portfolio-client/internal/auth"
	apperrors "github.com/portfolio-client/internal/errors"
	"github.com/portfolio-client/internal/freshness"
	"github.com/portfolio-client/internal/logging"
	"github.com/portfolio-client/internal/models"
	"golang.org/x/sync/singleflight"
)

// RemoteAPI is the portfolio service
type RemoteAPI interface {
	Login(ctx context.Context, user, pass string) (string, error)
	FetchAccounts(ctx context.Context, token string) (*models.AccountsResponse, error)
	GetCacheInfo(ctx context.Context, token string) (*models.CacheInfo, error)
	InvalidateCache(ctx context.Context, token string) (*models.CacheOperationResult, error)
	RefreshCache(ctx context.Context, token string) (*models.CacheOperationResult, error)
}

// CredentialStore keeps the session token
type CredentialStore interface {
	Save(ctx context.Context, token string) error
	Retrieve(ctx context.Context) (string, bool, error)
	Delete(ctx context.Context) error
}

// ReplicaStore is the local mirror of the remote accounts
type ReplicaStore interface {
	LoadCachedAccounts(ctx context.Context) ([]*models.Account, error)
	MostRecentSnapshotTimestamp(ctx context.Context) (time.Time, bool, error)
	ReplaceAll(ctx context.Context, accounts []*models.Account) error
	Snapshots(ctx context.Context, accountNumber string) ([]*models.Snapshot, error)
	SnapshotCount(ctx context.Context) (int, error)
	AccountCount(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Retention() int
}

const (
	defaultEventBuffer        = 32
	defaultServerCacheTimeout = 5 * time.Second
	asOfLayout                = "2006-01-02 15:04"
)

// SyncOrchestratorConfig wires the orchestrator's collaborators
type SyncOrchestratorConfig struct {
	API         RemoteAPI
	Credentials CredentialStore
	Replica     ReplicaStore
	Policy      freshness.Policy
	Guard       *auth.TokenGuard
	Clock       func() time.Time
	Logger      *logging.Logger
	// ServerCacheTimeout bounds the server cache lookup after a network
	// load. Negative disables the lookup.
	ServerCacheTimeout time.Duration
	EventBuffer        int
	// Monitor records load outcomes. Nil creates a private monitor.
	Monitor *LoadMonitor
}

// SyncOrchestrator runs load cycles. It is the only writer of the replica.
type SyncOrchestrator struct {
	api         RemoteAPI
	credentials CredentialStore
	replica     ReplicaStore
	policy      freshness.Policy
	guard       *auth.TokenGuard
	clock       func() time.Time
	logger      *logging.Logger

	serverCacheTimeout time.Duration
	monitor            *LoadMonitor

	group   singleflight.Group
	seq     atomic.Uint64
	loading atomic.Bool
	writeMu sync.Mutex

	mu     sync.RWMutex
	latest *LoadOutcome
	events chan Event
}

// NewSyncOrchestrator creates an orchestrator from cfg
func NewSyncOrchestrator(cfg SyncOrchestratorConfig) *SyncOrchestrator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	guard := cfg.Guard
	if guard == nil {
		guard = auth.NewTokenGuard(clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	timeout := cfg.ServerCacheTimeout
	if timeout == 0 {
		timeout = defaultServerCacheTimeout
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = NewLoadMonitor(0)
	}

	return &SyncOrchestrator{
		api:                cfg.API,
		credentials:        cfg.Credentials,
		replica:            cfg.Replica,
		policy:             cfg.Policy,
		guard:              guard,
		clock:              clock,
		logger:             logger.Component("sync"),
		serverCacheTimeout: timeout,
		monitor:            monitor,
		events:             make(chan Event, buffer),
	}
}

// Load returns accounts from the replica when it is fresh, from the service
// otherwise, and from the stale replica when the service cannot be reached.
// Overlapping calls share one in-flight load. A forced call that joined an
// unforced load which was answered from the replica loads again.
func (o *SyncOrchestrator) Load(ctx context.Context, forceRefresh bool) *LoadOutcome {
	outcome := o.flight(ctx, forceRefresh)
	if forceRefresh && !outcome.Forced && outcome.Kind == OutcomeServedFromCache {
		outcome = o.flight(ctx, true)
	}
	return outcome
}

func (o *SyncOrchestrator) flight(ctx context.Context, forceRefresh bool) *LoadOutcome {
	v, _, shared := o.group.Do("load", func() (interface{}, error) {
		return o.load(ctx, forceRefresh), nil
	})
	outcome := v.(*LoadOutcome)
	if shared {
		o.logger.WithField("sequence", outcome.Sequence).Debug("Joined in-flight load")
	}
	return outcome
}

// LoadStats summarizes the loads run so far
func (o *SyncOrchestrator) LoadStats() *LoadStats {
	return o.monitor.Stats()
}

// IsLoading reports whether a load is between its token check and its outcome
func (o *SyncOrchestrator) IsLoading() bool {
	return o.loading.Load()
}

// Latest returns the most recent published outcome, or nil before the first load
func (o *SyncOrchestrator) Latest() *LoadOutcome {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest
}

// Events streams loading transitions. Events are dropped when the buffer is
// full rather than blocking a load.
func (o *SyncOrchestrator) Events() <-chan Event {
	return o.events
}

func (o *SyncOrchestrator) load(ctx context.Context, forceRefresh bool) (outcome *LoadOutcome) {
	seq := o.seq.Add(1)
	logger := o.logger.WithFields(map[string]interface{}{
		"sequence": seq,
		"force":    forceRefresh,
	})

	start := time.Now()
	defer func() {
		outcome.Sequence = seq
		outcome.Forced = forceRefresh
		o.monitor.Record(outcome.Kind, time.Since(start))
		o.publish(outcome)
	}()

	token, ok, err := o.credentials.Retrieve(ctx)
	if err != nil {
		logger.WithError(err).Warn("Could not read stored credentials")
		ok = false
	}
	if !o.guard.Usable(token, ok) {
		logger.Debug("No usable session token")
		return authRequired(apperrors.NewAuthenticationRequiredError("no valid session token"))
	}

	o.loading.Store(true)
	o.emit(Event{Type: EventLoadStarted, Sequence: seq, At: o.clock()})
	defer o.loading.Store(false)

	if !forceRefresh {
		if outcome := o.serveFresh(ctx, logger); outcome != nil {
			return outcome
		}
	}

	logger.Debug("Fetching accounts")
	resp, fetchErr := o.api.FetchAccounts(ctx, token)
	if fetchErr != nil {
		return o.fallback(ctx, logger, fetchErr)
	}

	o.writeMu.Lock()
	err = o.replica.ReplaceAll(ctx, resp.Accounts)
	o.writeMu.Unlock()
	if err != nil {
		logger.WithError(err).Error("Failed to persist fetched accounts")
		return failure(err)
	}

	outcome = &LoadOutcome{
		Kind:       OutcomeServedFromNetwork,
		Accounts:   resp.Accounts,
		TotalValue: models.TotalValue(resp.Accounts),
		AsOf:       o.clock(),
		Portfolio:  resp.Portfolio,
	}
	outcome.ServerCache = o.lookupServerCache(ctx, token, logger)

	logger.WithField("accounts", len(resp.Accounts)).Info("Replica refreshed from network")
	return outcome
}

// serveFresh returns a cache outcome when the replica is within the
// freshness window, nil when the service should be asked
func (o *SyncOrchestrator) serveFresh(ctx context.Context, logger *logging.Logger) *LoadOutcome {
	lastSync, ok, err := o.replica.MostRecentSnapshotTimestamp(ctx)
	if err != nil {
		logger.WithError(err).Warn("Could not read replica freshness")
		return nil
	}
	if !ok || !o.policy.ShouldUseCache(lastSync, o.clock(), false) {
		logger.Debug("Replica is empty or stale")
		return nil
	}

	accounts, err := o.replica.LoadCachedAccounts(ctx)
	if err != nil {
		logger.WithError(err).Warn("Could not read fresh replica")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"accounts": len(accounts),
		"age":      freshness.Age(lastSync, o.clock()).String(),
	}).Debug("Serving accounts from replica")

	return &LoadOutcome{
		Kind:       OutcomeServedFromCache,
		Accounts:   accounts,
		TotalValue: models.TotalValue(accounts),
		AsOf:       lastSync,
	}
}

// fallback serves the replica regardless of age after a failed fetch
func (o *SyncOrchestrator) fallback(ctx context.Context, logger *logging.Logger, fetchErr error) *LoadOutcome {
	logger = logger.WithError(fetchErr)

	accounts, err := o.replica.LoadCachedAccounts(ctx)
	if err != nil {
		logger.WithField("replicaError", err.Error()).Error("Fetch failed and replica is unreadable")
		return failure(fetchErr)
	}
	if len(accounts) == 0 {
		if apperrors.Is(fetchErr, apperrors.CategoryAuthentication) {
			logger.Warn("Service rejected the session and no replica data exists")
			return authRequired(fetchErr)
		}
		logger.Warn("Fetch failed and replica is empty")
		return failure(fetchErr)
	}

	asOf, _, err := o.replica.MostRecentSnapshotTimestamp(ctx)
	if err != nil {
		logger.WithField("replicaError", err.Error()).Debug("Could not read last sync time")
	}

	logger.WithField("accounts", len(accounts)).Warn("Serving expired replica data")
	return &LoadOutcome{
		Kind:       OutcomeServedFromExpiredCache,
		Accounts:   accounts,
		TotalValue: models.TotalValue(accounts),
		AsOf:       asOf,
		Warning:    fetchErr,
		Advisory:   offlineAdvisory(asOf, fetchErr),
	}
}

func (o *SyncOrchestrator) lookupServerCache(ctx context.Context, token string, logger *logging.Logger) *models.CacheInfo {
	if o.serverCacheTimeout < 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.serverCacheTimeout)
	defer cancel()

	info, err := o.api.GetCacheInfo(ctx, token)
	if err != nil {
		logger.WithField("cacheError", err.Error()).Debug("Server cache info unavailable")
		return nil
	}
	return info
}

// publish records outcome unless a later load already published
func (o *SyncOrchestrator) publish(outcome *LoadOutcome) {
	o.mu.Lock()
	stale := o.latest != nil && o.latest.Sequence > outcome.Sequence
	if !stale {
		o.latest = outcome
	}
	o.mu.Unlock()

	if stale {
		o.logger.WithField("sequence", outcome.Sequence).Debug("Discarding superseded load outcome")
		return
	}
	o.emit(Event{Type: EventLoadCompleted, Sequence: outcome.Sequence, Outcome: outcome, At: o.clock()})
}

func (o *SyncOrchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.WithField("event", string(ev.Type)).Debug("Event buffer full, dropping event")
	}
}

func authRequired(err error) *LoadOutcome {
	return &LoadOutcome{
		Kind:       OutcomeAuthenticationRequired,
		TotalValue: models.TotalValue(nil),
		Err:        err,
		Advisory:   "Please log in.",
	}
}

func failure(err error) *LoadOutcome {
	return &LoadOutcome{
		Kind:       OutcomeFailure,
		TotalValue: models.TotalValue(nil),
		Err:        err,
		Advisory:   apperrors.UserMessage(err),
	}
}

func offlineAdvisory(asOf time.Time, err error) string {
	var b strings.Builder
	b.WriteString("Showing cached data")
	if !asOf.IsZero() {
		fmt.Fprintf(&b, " from %s", asOf.Local().Format(asOfLayout))
	}
	b.WriteString(". ")
	b.WriteString(apperrors.UserMessage(err))
	return b.String()
}

// Login exchanges credentials for a token and stores it
func (o *SyncOrchestrator) Login(ctx context.Context, user, pass string) error {
	if strings.TrimSpace(user) == "" {
		return apperrors.NewInvalidParameterError("user", "must not be empty")
	}
	if pass == "" {
		return apperrors.NewInvalidParameterError("pass", "must not be empty")
	}

	token, err := o.api.Login(ctx, user, pass)
	if err != nil {
		o.logger.WithError(err).Warn("Login failed")
		return err
	}
	if err := o.credentials.Save(ctx, token); err != nil {
		return err
	}

	logger := o.logger.WithField("user", user)
	if remaining := o.guard.Remaining(token); remaining > 0 {
		logger = logger.WithField("validFor", remaining.Round(time.Minute).String())
	}
	logger.Info("Logged in")
	return nil
}

// Relogin replaces the stored token and forces a refresh
func (o *SyncOrchestrator) Relogin(ctx context.Context, user, pass string) (*LoadOutcome, error) {
	if err := o.credentials.Delete(ctx); err != nil {
		o.logger.WithError(err).Warn("Could not delete previous token")
	}
	if err := o.Login(ctx, user, pass); err != nil {
		return nil, err
	}
	return o.Load(ctx, true), nil
}

// Logout forgets the session token. The replica stays for offline viewing.
func (o *SyncOrchestrator) Logout(ctx context.Context) error {
	if err := o.credentials.Delete(ctx); err != nil {
		return err
	}
	o.logger.Info("Logged out")
	return nil
}

// usableToken returns the stored token or an AuthenticationRequired error
func (o *SyncOrchestrator) usableToken(ctx context.Context) (string, error) {
	token, ok, err := o.credentials.Retrieve(ctx)
	if err != nil {
		return "", err
	}
	if !o.guard.Usable(token, ok) {
		return "", apperrors.NewAuthenticationRequiredError("no valid session token")
	}
	return token, nil
}

// ServerCacheInfo asks the service about its own cache. Failures are
// returned but never affect loads.
func (o *SyncOrchestrator) ServerCacheInfo(ctx context.Context) (*models.CacheInfo, error) {
	token, err := o.usableToken(ctx)
	if err != nil {
		return nil, err
	}
	return o.api.GetCacheInfo(ctx, token)
}

// RefreshServerCache asks the service to rebuild its cache, then forces a
// load. The returned error is the refresh failure, if any; the load runs
// either way.
func (o *SyncOrchestrator) RefreshServerCache(ctx context.Context) (*LoadOutcome, error) {
	token, err := o.usableToken(ctx)
	if err != nil {
		return o.Load(ctx, true), err
	}

	var refreshErr error
	if result, err := o.api.RefreshCache(ctx, token); err != nil {
		o.logger.WithError(err).Warn("Server cache refresh failed")
		refreshErr = err
	} else {
		o.logger.WithField("message", result.Message).Info("Server cache refreshed")
	}
	return o.Load(ctx, true), refreshErr
}

// InvalidateAllCaches drops the server cache and the replica, then forces a
// load. Server-side failures are logged only.
func (o *SyncOrchestrator) InvalidateAllCaches(ctx context.Context) (*LoadOutcome, error) {
	if token, err := o.usableToken(ctx); err == nil {
		if _, err := o.api.InvalidateCache(ctx, token); err != nil {
			o.logger.WithError(err).Warn("Server cache invalidation failed")
		}
	}

	o.writeMu.Lock()
	err := o.replica.Clear(ctx)
	o.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	o.logger.Info("Replica cleared")

	return o.Load(ctx, true), nil
}

// History returns the retained snapshots of one account, oldest first
func (o *SyncOrchestrator) History(ctx context.Context, accountNumber string) ([]*models.Snapshot, error) {
	if strings.TrimSpace(accountNumber) == "" {
		return nil, apperrors.NewInvalidParameterError("accountNumber", "must not be empty")
	}
	return o.replica.Snapshots(ctx, accountNumber)
}

// Status summarizes the replica and the session
func (o *SyncOrchestrator) Status(ctx context.Context) (*models.ReplicaStatus, error) {
	status := &models.ReplicaStatus{SnapshotRetention: o.replica.Retention()}

	lastSync, ok, err := o.replica.MostRecentSnapshotTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	now := o.clock()
	if ok {
		status.LastSyncAt = &lastSync
		status.Age = freshness.Age(lastSync, now)
		status.Fresh = o.policy.IsFresh(lastSync, now)
	}

	if status.AccountsCount, err = o.replica.AccountCount(ctx); err != nil {
		return nil, err
	}
	if status.SnapshotCount, err = o.replica.SnapshotCount(ctx); err != nil {
		return nil, err
	}

	token, present, err := o.credentials.Retrieve(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("Could not read stored credentials")
	}
	status.LoggedIn = err == nil && o.guard.Usable(token, present)
	return status, nil
}
