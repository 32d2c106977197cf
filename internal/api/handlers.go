package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/portfolio-client/internal/models"
	"github.com/portfolio-client/internal/storage"
)

// handleLogin handles POST /login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.User), []byte(s.config.User)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Pass), []byte(s.config.Password)) == 1
	if req.User == "" || !userOK || !passOK {
		s.logger.WithField("user", req.User).Warn("Rejected login")
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := s.tokens.Issue(req.User, s.now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to issue token", nil)
		return
	}

	respondJSON(w, http.StatusOK, models.LoginResponse{JWT: token})
}

// handleAccounts handles GET /accounts, serving the cached payload when
// the cache holds one
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := subjectFromContext(ctx)
	key := s.cache.GenerateAccountsKey(user)

	var entry storage.CachedAccounts
	found, err := s.cache.Get(ctx, key, &entry)
	if err != nil {
		s.logger.WithError(err).Warn("Cache read failed, serving from source")
	}
	if found && entry.Response != nil {
		w.Header().Set("X-Cache", "HIT")
		respondJSON(w, http.StatusOK, entry.Response)
		return
	}

	resp, err := s.loadAndCache(r, user)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load accounts")
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Accounts are unavailable", nil)
		return
	}
	w.Header().Set("X-Cache", "MISS")
	respondJSON(w, http.StatusOK, resp)
}

// loadAndCache reads the source and stores the result for user
func (s *Server) loadAndCache(r *http.Request, user string) (*models.AccountsResponse, error) {
	ctx := r.Context()
	resp, err := s.source.Accounts(ctx, user)
	if err != nil {
		return nil, err
	}

	entry := storage.CachedAccounts{User: user, Response: resp, CachedAt: s.now().UTC()}
	if err := s.cache.Set(ctx, s.cache.GenerateAccountsKey(user), entry); err != nil {
		s.logger.WithError(err).Warn("Failed to cache accounts")
	}
	return resp, nil
}

// handleCacheInfo handles GET /cache/info
func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	key := s.cache.GenerateAccountsKey(subjectFromContext(r.Context()))

	info, err := s.cache.Describe(r.Context(), key, s.now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read cache", nil)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleCacheInvalidate handles DELETE /cache. With ?scope=all the cached
// payloads of every user are dropped, not only the caller's.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	user := subjectFromContext(r.Context())

	var err error
	message := "Cache invalidated"
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "user":
		err = s.cache.Invalidate(r.Context(), s.cache.GenerateAccountsKey(user))
	case "all":
		err = s.cache.InvalidatePattern(r.Context(), s.cache.GenerateAccountsPattern())
		message = "All cached accounts invalidated"
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "scope must be user or all", map[string]interface{}{"scope": scope})
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to invalidate cache")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to invalidate cache", nil)
		return
	}

	respondJSON(w, http.StatusOK, s.operationResult(user, message, nil))
}

// handleCacheRefresh handles POST /cache/refresh
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	user := subjectFromContext(r.Context())

	resp, err := s.loadAndCache(r, user)
	if err != nil {
		s.logger.WithError(err).Error("Failed to refresh cache")
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Accounts are unavailable", nil)
		return
	}

	count := len(resp.Accounts)
	respondJSON(w, http.StatusOK, s.operationResult(user, "Cache refreshed", &count))
}

func (s *Server) operationResult(user, message string, accounts *int) *models.CacheOperationResult {
	key := s.cache.GenerateAccountsKey(user)
	return &models.CacheOperationResult{
		Success:       true,
		Message:       message,
		CachePath:     &key,
		Timestamp:     s.now().UTC().Format(models.APITimeLayout),
		AccountsCount: accounts,
		UserID:        &user,
	}
}
