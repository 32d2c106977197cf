// Package auth decides whether the session token held on the device is
// usable and keeps it in a credential store.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMalformedToken is returned by ExpiresAt for tokens that do not carry a
// readable numeric exp claim
var ErrMalformedToken = errors.New("malformed token")

// ExpiresAt decodes the exp claim of a three-part token. The signature is not
// verified; only the server can do that.
func ExpiresAt(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedToken, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: payload encoding: %v", ErrMalformedToken, err)
	}

	var claims map[string]json.RawMessage
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: payload json: %v", ErrMalformedToken, err)
	}
	raw, ok := claims["exp"]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}

	var exp float64
	if err := json.Unmarshal(raw, &exp); err != nil {
		return time.Time{}, fmt.Errorf("%w: exp is not a number", ErrMalformedToken)
	}
	// keeps the int64 conversion below exact
	if exp > 1e15 || exp < -1e15 {
		return time.Time{}, fmt.Errorf("%w: exp out of range", ErrMalformedToken)
	}

	sec, frac := math.Modf(exp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// IsExpired reports whether token must not be used at now. Anything that
// cannot be decoded counts as expired.
func IsExpired(token string, now time.Time) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return true
	}
	return !exp.After(now)
}

// TokenGuard applies IsExpired against an injectable clock
type TokenGuard struct {
	now func() time.Time
}

// NewTokenGuard creates a guard; a nil clock means time.Now
func NewTokenGuard(now func() time.Time) *TokenGuard {
	if now == nil {
		now = time.Now
	}
	return &TokenGuard{now: now}
}

// IsExpired checks token against the guard's clock
func (g *TokenGuard) IsExpired(token string) bool {
	return IsExpired(token, g.now())
}

// Usable reports whether a retrieved token may be sent to the server. An
// absent token is never usable.
func (g *TokenGuard) Usable(token string, ok bool) bool {
	if !ok || token == "" {
		return false
	}
	return !g.IsExpired(token)
}

// Remaining returns how long token stays valid, or zero when it is expired
// or unreadable
func (g *TokenGuard) Remaining(token string) time.Duration {
	exp, err := ExpiresAt(token)
	if err != nil {
		return 0
	}
	d := exp.Sub(g.now())
	if d < 0 {
		return 0
	}
	return d
}
