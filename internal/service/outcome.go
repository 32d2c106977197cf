package service

import (
	"time"

	"github.com/portfolio-client/internal/models"
	"github.com/shopspring/decimal"
)

// OutcomeKind classifies the result of a load
type OutcomeKind int

const (
	// OutcomeServedFromCache means the replica was fresh and no request was made
	OutcomeServedFromCache OutcomeKind = iota + 1
	// OutcomeServedFromNetwork means the service answered and the replica was replaced
	OutcomeServedFromNetwork
	// OutcomeServedFromExpiredCache means the fetch failed and stale replica data is shown
	OutcomeServedFromExpiredCache
	// OutcomeAuthenticationRequired means there is no usable session token
	OutcomeAuthenticationRequired
	// OutcomeFailure means there is neither fresh nor cached data to show
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeServedFromCache:
		return "served_from_cache"
	case OutcomeServedFromNetwork:
		return "served_from_network"
	case OutcomeServedFromExpiredCache:
		return "served_from_expired_cache"
	case OutcomeAuthenticationRequired:
		return "authentication_required"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// LoadOutcome is what a load hands back to the caller. Outcomes may be
// shared between coalesced callers and must be treated as read-only.
type LoadOutcome struct {
	Kind       OutcomeKind
	Accounts   []*models.Account
	TotalValue decimal.Decimal
	// AsOf is the sync time the accounts reflect
	AsOf      time.Time
	Portfolio *models.PortfolioStats
	// Warning carries the fetch error behind an expired-cache outcome
	Warning error
	// Err is set for AuthenticationRequired and Failure
	Err error
	// Advisory is short text for display alongside the data
	Advisory    string
	ServerCache *models.CacheInfo
	Sequence    uint64
	Forced      bool
}

// HasData reports whether the outcome carries accounts to show
func (o *LoadOutcome) HasData() bool {
	switch o.Kind {
	case OutcomeServedFromCache, OutcomeServedFromNetwork, OutcomeServedFromExpiredCache:
		return true
	default:
		return false
	}
}

// EventType identifies orchestrator events
type EventType string

const (
	EventLoadStarted   EventType = "load_started"
	EventLoadCompleted EventType = "load_completed"
)

// Event reports loading transitions to observers such as a UI
type Event struct {
	Type     EventType
	Sequence uint64
	Outcome  *LoadOutcome // set on EventLoadCompleted
	At       time.Time
}
