// Package freshness decides whether the local replica is recent enough to
// serve without asking the server.
package freshness

import "time"

// DefaultWindow is how long a sync stays fresh
const DefaultWindow = 6 * time.Hour

// Policy holds the freshness window. The zero value uses DefaultWindow.
type Policy struct {
	Window time.Duration
}

// NewPolicy creates a policy; a non-positive window falls back to the default
func NewPolicy(window time.Duration) Policy {
	if window <= 0 {
		window = DefaultWindow
	}
	return Policy{Window: window}
}

func (p Policy) window() time.Duration {
	if p.Window <= 0 {
		return DefaultWindow
	}
	return p.Window
}

// IsFresh reports whether a sync at lastSync is still fresh at now. A zero
// lastSync means no sync ever happened. A lastSync in the future (clock
// skew) is treated as fresh.
func (p Policy) IsFresh(lastSync, now time.Time) bool {
	if lastSync.IsZero() {
		return false
	}
	return now.Sub(lastSync) < p.window()
}

// ShouldUseCache reports whether a load may be served from the replica
func (p Policy) ShouldUseCache(lastSync, now time.Time, forceRefresh bool) bool {
	if forceRefresh {
		return false
	}
	return p.IsFresh(lastSync, now)
}

// Age returns how long ago lastSync happened, or zero when there was none
func Age(lastSync, now time.Time) time.Duration {
	if lastSync.IsZero() {
		return 0
	}
	age := now.Sub(lastSync)
	if age < 0 {
		return 0
	}
	return age
}
