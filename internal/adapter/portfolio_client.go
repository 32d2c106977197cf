package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/portfolio-client/internal/circuitbreaker"
	apperrors "github.com/portfolio-client/internal/errors"
	"github.com/portfolio-client/internal/logging"
	"github.com/portfolio-client/internal/models"
	"github.com/portfolio-client/internal/retry"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	// responses are read whole; anything bigger is a misbehaving server
	maxResponseBytes = 16 << 20
	// bodies shorter than this are suspicious but still decoded
	minPlausibleBody = 16
	previewLength    = 200
)

// PortfolioAPIClientConfig configures PortfolioAPIClient
type PortfolioAPIClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// RateLimitRPS caps outgoing requests per second; zero or less disables the limit
	RateLimitRPS float64
	Retry        *retry.RetryConfig
	Breaker      *circuitbreaker.Config
	HTTPClient   *http.Client
	Logger       *logging.Logger
}

// PortfolioAPIClient talks to the remote portfolio service
type PortfolioAPIClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	retry   *retry.RetryConfig
	breaker *circuitbreaker.CircuitBreaker
	logger  *logging.Logger
}

type rawResponse struct {
	status int
	body   []byte
}

// NewPortfolioAPIClient creates a client for the service at cfg.BaseURL
func NewPortfolioAPIClient(cfg PortfolioAPIClientConfig) (*PortfolioAPIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apperrors.NewInvalidParameterError("baseURL", "must not be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.Component("portfolio-api")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
		if int(cfg.RateLimitRPS) > burst {
			burst = int(cfg.RateLimitRPS)
		}
	}

	retryCfg := retry.DefaultRetryConfig()
	if cfg.Retry != nil {
		copied := *cfg.Retry
		retryCfg = &copied
	}
	if retryCfg.ShouldRetry == nil {
		retryCfg.ShouldRetry = shouldRetry
	}

	breakerCfg := circuitbreaker.DefaultConfig("portfolio-api")
	if cfg.Breaker != nil {
		copied := *cfg.Breaker
		breakerCfg = &copied
	}
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = countsAgainstCircuit
	}
	if breakerCfg.Logger == nil {
		breakerCfg.Logger = logger
	}

	return &PortfolioAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
		limiter: rate.NewLimiter(limit, burst),
		retry:   retryCfg,
		breaker: circuitbreaker.NewCircuitBreaker(breakerCfg),
		logger:  logger,
	}, nil
}

// shouldRetry retries transport failures but never an open circuit
func shouldRetry(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return false
	}
	return apperrors.IsRetryable(err)
}

// countsAgainstCircuit reports whether err says the service is unavailable.
// A server that answers 4xx or with a bad payload is up.
func countsAgainstCircuit(err error) bool {
	catErr := apperrors.Categorize(err)
	switch catErr.Category {
	case apperrors.CategoryNetwork:
		return true
	case apperrors.CategoryServer:
		return catErr.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// Login exchanges credentials for a session token
func (c *PortfolioAPIClient) Login(ctx context.Context, user, pass string) (string, error) {
	const op = "login"

	payload, err := json.Marshal(models.LoginRequest{User: user, Pass: pass})
	if err != nil {
		return "", apperrors.NewInternalError("failed to encode login request", err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, "login", "", payload)
	if err != nil {
		return "", err
	}
	if resp.status < 200 || resp.status >= 300 {
		return "", apperrors.NewAuthenticationFailedError(resp.status,
			fmt.Sprintf("login rejected with status %d", resp.status))
	}
	if looksLikeHTML(resp.body) {
		return "", apperrors.NewHTMLResponseError(op, preview(resp.body))
	}

	var out models.LoginResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", apperrors.NewDecodeError(op, err)
	}
	if out.JWT == "" {
		return "", apperrors.NewAuthenticationFailedError(resp.status, "login response carries no token")
	}

	c.logger.Info("Login succeeded")
	return out.JWT, nil
}

// FetchAccounts downloads every account with its positions
func (c *PortfolioAPIClient) FetchAccounts(ctx context.Context, token string) (*models.AccountsResponse, error) {
	const op = "fetch accounts"

	resp, err := c.do(ctx, op, http.MethodGet, "accounts", token, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}
	if looksLikeHTML(resp.body) {
		c.logger.WithField("preview", preview(resp.body)).Error("Server returned HTML instead of JSON")
		return nil, apperrors.NewHTMLResponseError(op, preview(resp.body))
	}
	if len(resp.body) < minPlausibleBody {
		c.logger.WithFields(map[string]interface{}{
			"bytes": len(resp.body),
			"body":  string(resp.body),
		}).Warn("Accounts response is unusually small")
	}

	var out models.AccountsResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, apperrors.NewDecodeError(op, err)
	}
	for _, account := range out.Accounts {
		account.AttachPositions()
	}

	c.logger.WithField("accounts", len(out.Accounts)).Debug("Fetched accounts")
	return &out, nil
}

// GetCacheInfo asks the server about its accounts cache
func (c *PortfolioAPIClient) GetCacheInfo(ctx context.Context, token string) (*models.CacheInfo, error) {
	var out models.CacheInfo
	if err := c.call(ctx, "cache info", http.MethodGet, "cache/info", token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateCache drops the server's accounts cache
func (c *PortfolioAPIClient) InvalidateCache(ctx context.Context, token string) (*models.CacheOperationResult, error) {
	var out models.CacheOperationResult
	if err := c.call(ctx, "invalidate cache", http.MethodDelete, "cache", token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshCache asks the server to rebuild its accounts cache
func (c *PortfolioAPIClient) RefreshCache(ctx context.Context, token string) (*models.CacheOperationResult, error) {
	var out models.CacheOperationResult
	if err := c.call(ctx, "refresh cache", http.MethodPost, "cache/refresh", token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BreakerStats exposes the circuit breaker state for diagnostics
func (c *PortfolioAPIClient) BreakerStats() *circuitbreaker.Stats {
	return c.breaker.GetStats()
}

// call performs an authenticated request and decodes a JSON answer into dest
func (c *PortfolioAPIClient) call(ctx context.Context, op, method, path, token string, dest interface{}) error {
	resp, err := c.do(ctx, op, method, path, token, nil)
	if err != nil {
		return err
	}
	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if looksLikeHTML(resp.body) {
		return apperrors.NewHTMLResponseError(op, preview(resp.body))
	}
	if err := json.Unmarshal(resp.body, dest); err != nil {
		return apperrors.NewDecodeError(op, err)
	}
	return nil
}

// do sends one logical request. Each attempt waits on the rate limiter and
// runs through the circuit breaker; 5xx answers come back as errors so the
// breaker and the retry loop can see them.
func (c *PortfolioAPIClient) do(ctx context.Context, op, method, path, token string, body []byte) (*rawResponse, error) {
	var resp *rawResponse
	ctx = logging.WithLogger(ctx, c.logger.WithField("operation", op))

	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewNetworkError(op, err)
		}

		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			r, err := c.send(ctx, op, method, path, token, body)
			if err != nil {
				return err
			}
			if r.status >= http.StatusInternalServerError {
				return apperrors.NewServerError(op, r.status, preview(r.body))
			}
			resp = r
			return nil
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return apperrors.NewNetworkError(op, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *PortfolioAPIClient) send(ctx context.Context, op, method, path, token string, body []byte) (*rawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError(op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewNetworkError(op, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   res.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	}).Debug("Request completed")

	return &rawResponse{status: res.StatusCode, body: data}, nil
}

// checkStatus maps a non-2xx answer below 500 to a typed error
func checkStatus(op string, resp *rawResponse) error {
	switch {
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return apperrors.NewAuthenticationFailedError(resp.status,
			fmt.Sprintf("%s rejected the session token", op))
	case resp.status < 200 || resp.status >= 300:
		return apperrors.NewServerError(op, resp.status, preview(resp.body))
	}
	return nil
}

// looksLikeHTML recognises markup where JSON was expected: a document, or
// the PHP warning fragments some deployments prepend to their output
func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return true
	}
	return strings.Contains(trimmed, "<br />") || strings.Contains(trimmed, "<b>Warning</b>")
}

func preview(body []byte) string {
	if len(body) > previewLength {
		return string(body[:previewLength])
	}
	return string(body)
}
