package presenter

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/portfolio-client/internal/models"
	"github.com/portfolio-client/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestPresenter() (*Presenter, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&buf, time.UTC).WithClock(func() time.Time { return now }), &buf
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"1500.25", "EUR", "€1,500.25"},
		{"0", "EUR", "€0.00"},
		{"10.005", "EUR", "€10.01"},
		{"12.5", "USD", "$12.50"},
		{"3.1", "XXX-NOT-A-CURRENCY", "3.10 XXX-NOT-A-CURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.amount+" "+tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMoney(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "+20.05%", FormatPercent(decimal.RequireFromString("20.05")))
	assert.Equal(t, "-3.10%", FormatPercent(decimal.RequireFromString("-3.1")))
	assert.Equal(t, "0.00%", FormatPercent(decimal.Zero))
}

func sampleAccounts() []*models.Account {
	return []*models.Account{
		{
			AccountNumber: "A-1",
			Label:         "PEA",
			Value:         decimal.RequireFromString("1500.25"),
			Positions: []*models.Position{{
				ISIN:           "FR0000120271",
				InstrumentName: "TOTALENERGIES",
				AssetClass:     "Actions",
				MarketValue:    decimal.RequireFromString("1200.5"),
				Performance:    decimal.RequireFromString("20.05"),
			}},
		},
		{AccountNumber: "B-2", Value: decimal.NewFromInt(10)},
	}
}

func TestOutcome_WithData(t *testing.T) {
	p, buf := newTestPresenter()
	accounts := sampleAccounts()

	err := p.Outcome(&service.LoadOutcome{
		Kind:       service.OutcomeServedFromExpiredCache,
		Accounts:   accounts,
		TotalValue: models.TotalValue(accounts),
		AsOf:       now.Add(-26 * time.Hour),
		Advisory:   "Showing cached data from 2024-05-31 10:00.",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "PEA")
	assert.Contains(t, out, "B-2")
	assert.Contains(t, out, "€1,500.25")
	assert.Contains(t, out, "TOTALENERGIES")
	assert.Contains(t, out, "+20.05%")
	assert.Contains(t, out, "Total: €1,510.25")
	assert.Contains(t, out, "As of 2024-05-31 10:00 (26h ago")
	assert.Contains(t, out, "offline")
	assert.Contains(t, out, "Warning: Showing cached data")
}

func TestOutcome_WithoutData(t *testing.T) {
	p, buf := newTestPresenter()

	require.NoError(t, p.Outcome(&service.LoadOutcome{Kind: service.OutcomeAuthenticationRequired}))
	assert.Contains(t, buf.String(), "Not logged in")

	buf.Reset()
	require.NoError(t, p.Outcome(&service.LoadOutcome{Kind: service.OutcomeFailure, Err: errors.New("server unavailable")}))
	assert.Contains(t, buf.String(), "server unavailable")
}

func TestAccounts_Empty(t *testing.T) {
	p, buf := newTestPresenter()
	require.NoError(t, p.Accounts(nil))
	assert.Equal(t, "No accounts.\n", buf.String())
}

func TestPositions_Trend(t *testing.T) {
	p, buf := newTestPresenter()
	positions := []*models.Position{
		{ISIN: "UP", Performance: decimal.RequireFromString("4.2")},
		{ISIN: "FLAT", Performance: decimal.Zero},
		{ISIN: "DOWN", Performance: decimal.RequireFromString("-1.5")},
	}

	require.NoError(t, p.Positions(positions))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "+4.20%")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[1]), "▲"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "▲"))
	assert.Contains(t, lines[3], "-1.50%")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[3]), "▼"))
}

func TestHistory(t *testing.T) {
	p, buf := newTestPresenter()

	require.NoError(t, p.History("A-1", nil))
	assert.Contains(t, buf.String(), "No history for account A-1")

	buf.Reset()
	snapshots := []*models.Snapshot{
		{AccountNumber: "A-1", Value: decimal.NewFromInt(100), CapturedAt: now.Add(-24 * time.Hour)},
		{AccountNumber: "A-1", Value: decimal.NewFromInt(110), CapturedAt: now},
	}
	require.NoError(t, p.History("A-1", snapshots))
	out := buf.String()
	assert.Contains(t, out, "2024-06-01 12:00")
	assert.Contains(t, out, "+€10.00")
	assert.Contains(t, out, "€100.00")
}

func TestCacheInfo(t *testing.T) {
	p, buf := newTestPresenter()

	require.NoError(t, p.CacheInfo(&models.CacheInfo{Key: "accounts:demo"}))
	assert.Contains(t, buf.String(), "Server cache: No cache")
	assert.Contains(t, buf.String(), "TTL:       6h 0m")

	buf.Reset()
	ts := "2024-06-01T11:00:00"
	age := "1h"
	expired := false
	size := int64(2048)
	require.NoError(t, p.CacheInfo(&models.CacheInfo{
		Key: "accounts:demo", Timestamp: &ts, AgeHuman: &age, IsExpired: &expired, Size: &size,
	}))
	out := buf.String()
	assert.Contains(t, out, "Server cache: Valid")
	assert.Contains(t, out, ts)
	assert.Contains(t, out, "2.0 KB")
}

func TestStatus(t *testing.T) {
	p, buf := newTestPresenter()

	require.NoError(t, p.Status(&models.ReplicaStatus{}))
	assert.Contains(t, buf.String(), "Logged in: no")
	assert.Contains(t, buf.String(), "Replica:   empty")

	buf.Reset()
	last := now.Add(-2 * time.Hour)
	require.NoError(t, p.Status(&models.ReplicaStatus{
		LastSyncAt: &last, Age: 2 * time.Hour, Fresh: true, AccountsCount: 2, SnapshotCount: 4,
		SnapshotRetention: 20, LoggedIn: true,
	}))
	out := buf.String()
	assert.Contains(t, out, "Logged in: yes")
	assert.Contains(t, out, "2 accounts, 4 snapshots (last 20 kept)")
	assert.Contains(t, out, "2h ago, fresh")
}
