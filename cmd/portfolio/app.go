package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/portfolio-client/internal/adapter"
	"github.com/portfolio-client/internal/auth"
	"github.com/portfolio-client/internal/circuitbreaker"
	"github.com/portfolio-client/internal/config"
	"github.com/portfolio-client/internal/freshness"
	"github.com/portfolio-client/internal/logging"
	"github.com/portfolio-client/internal/presenter"
	"github.com/portfolio-client/internal/retry"
	"github.com/portfolio-client/internal/service"
	"github.com/portfolio-client/internal/storage"
)

// as a CLI application the lifecycle is short, global flags are fine.

var verbose = flag.Bool("v", false, "Log debug output to stderr")

// app holds the wired components for one command invocation
type app struct {
	cfg     *config.Config
	orch    *service.SyncOrchestrator
	out     *presenter.Presenter
	logger  *logging.Logger
	closers []func()
}

// openApp loads the configuration and wires the orchestrator
func openApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is not set")
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logging.LevelDebug)
	}

	a := &app{cfg: cfg, logger: logger, out: presenter.New(os.Stdout, nil)}

	replica, closeReplica, err := storage.OpenReplica(cfg, time.Now, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}
	a.closers = append(a.closers, closeReplica)

	credentials, err := a.credentialStore()
	if err != nil {
		a.Close()
		return nil, err
	}

	client, err := adapter.NewPortfolioAPIClient(adapter.PortfolioAPIClientConfig{
		BaseURL:      cfg.API.BaseURL,
		Timeout:      cfg.API.Timeout,
		RateLimitRPS: cfg.API.RateLimitRPS,
		Retry: &retry.RetryConfig{
			MaxAttempts:  cfg.API.RetryAttempts,
			InitialDelay: cfg.API.RetryInitialDelay,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
		Breaker: &circuitbreaker.Config{
			Name:             "portfolio-api",
			MaxFailures:      cfg.API.BreakerFailures,
			Timeout:          cfg.API.BreakerCooldown,
			HalfOpenMaxCalls: 1,
			Logger:           logger,
		},
		Logger: logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orch = service.NewSyncOrchestrator(service.SyncOrchestratorConfig{
		API:         client,
		Credentials: credentials,
		Replica:     replica,
		Policy:      freshness.NewPolicy(cfg.Replica.FreshnessWindow),
		Guard:       auth.NewTokenGuard(time.Now),
		Clock:       time.Now,
		Logger:      logger,
	})
	return a, nil
}

func (a *app) credentialStore() (service.CredentialStore, error) {
	switch a.cfg.Credentials.Backend {
	case config.CredentialBackendRedis:
		redis, err := storage.NewRedisCache(&a.cfg.Database.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = redis.Close() })
		return storage.NewRedisCredentialStore(redis, a.cfg.Credentials.RedisKey, time.Now), nil
	case config.CredentialBackendMemory:
		return auth.NewMemoryCredentialStore(), nil
	default:
		return auth.NewFileCredentialStore(a.cfg.Credentials.FilePath), nil
	}
}

// Close releases connections in reverse order
func (a *app) Close() {
	if a.orch != nil {
		if stats := a.orch.LoadStats(); stats.TotalLoads > 0 {
			a.logger.WithFields(map[string]interface{}{
				"loads":       stats.TotalLoads,
				"fromReplica": stats.FromReplica,
				"fromNetwork": stats.FromNetwork,
				"offline":     stats.Offline,
				"avgNetwork":  stats.AvgNetworkLoad.String(),
			}).Debug("Load summary")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// withApp runs fn with a wired app and maps errors to an exit status
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
