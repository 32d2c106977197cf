package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time record of one account's value and positions,
// written on every successful sync
type Snapshot struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AccountNumber string          `json:"accountNumber" db:"account_number"`
	Value         decimal.Decimal `json:"value" db:"value"`
	CapturedAt    time.Time       `json:"capturedAt" db:"captured_at"`
	Positions     []*Position     `json:"positions" db:"positions"`
}

// NewSnapshot captures account at the given instant
func NewSnapshot(account *Account, capturedAt time.Time) *Snapshot {
	return &Snapshot{
		ID:            uuid.New(),
		AccountNumber: account.AccountNumber,
		Value:         account.Value,
		CapturedAt:    capturedAt,
		Positions:     account.Positions,
	}
}

// ReplicaStatus summarizes the local replica for the cache info view
type ReplicaStatus struct {
	LastSyncAt        *time.Time    `json:"lastSyncAt,omitempty"`
	Age               time.Duration `json:"age"`
	Fresh             bool          `json:"fresh"`
	AccountsCount     int           `json:"accountsCount"`
	SnapshotCount     int           `json:"snapshotCount"`
	SnapshotRetention int           `json:"snapshotRetention"`
	LoggedIn          bool          `json:"loggedIn"`
}
