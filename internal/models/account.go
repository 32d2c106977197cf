// Package models provides data models for the portfolio replica client.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// APITimeLayout is the timestamp layout used by the remote service. Values
// carry no zone and are interpreted as UTC.
const APITimeLayout = "2006-01-02T15:04:05"

// APITime is a timestamp encoded with APITimeLayout
type APITime struct {
	time.Time
}

// NewAPITime truncates t to whole seconds in UTC
func NewAPITime(t time.Time) APITime {
	return APITime{Time: t.UTC().Truncate(time.Second)}
}

// MarshalJSON encodes the time in the remote service's layout
func (t APITime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + t.UTC().Format(APITimeLayout) + `"`), nil
}

// UnmarshalJSON accepts the remote layout and, as a fallback, RFC 3339
func (t *APITime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.ParseInLocation(APITimeLayout, s, time.UTC)
	if err != nil {
		rfc, rfcErr := time.Parse(time.RFC3339, s)
		if rfcErr != nil {
			return err
		}
		parsed = rfc.UTC()
	}
	t.Time = parsed
	return nil
}

// Account is one brokerage account as mirrored from the remote service.
// AccountNumber is the unique key.
type Account struct {
	AccountNumber string          `json:"accountNumber" db:"account_number"`
	Label         string          `json:"label" db:"label"`
	Value         decimal.Decimal `json:"value" db:"value"`
	Positions     []*Position     `json:"positions"`
	Stats         *AccountStats   `json:"stats,omitempty"`
}

// DisplayLabel returns the label, or the account number when unlabeled
func (a *Account) DisplayLabel() string {
	if strings.TrimSpace(a.Label) == "" {
		return a.AccountNumber
	}
	return a.Label
}

// Position is a holding of one instrument inside one account
type Position struct {
	ID             uuid.UUID       `json:"-" db:"id"`
	AccountNumber  string          `json:"-" db:"account_number"`
	ISIN           string          `json:"isinCode" db:"isin"`
	InstrumentName string          `json:"libInstrument" db:"instrument_name"`
	PurchaseValue  decimal.Decimal `json:"valorisationAchatNette" db:"purchase_value"`
	MarketValue    decimal.Decimal `json:"valeurMarcheDeviseSecurite" db:"market_value"`
	SnapshotDate   APITime         `json:"dateArrete" db:"snapshot_date"`
	Quantity       decimal.Decimal `json:"quantityMinute" db:"quantity"`
	UnrealizedPnL  decimal.Decimal `json:"pmvl" db:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"pmvr" db:"realized_pnl"`
	Weight         decimal.Decimal `json:"weightMinute" db:"weight"`
	AssetClassCode string          `json:"reportingAssetClassCode" db:"asset_class_code"`
	Performance    decimal.Decimal `json:"performance" db:"performance"`
	AssetClass     string          `json:"classActif" db:"asset_class"`
	ClosingPrice   decimal.Decimal `json:"closingPriceInListingCurrency" db:"closing_price"`
}

// IsPerformancePositive reports whether the position is flat or up
func (p *Position) IsPerformancePositive() bool {
	return !p.Performance.IsNegative()
}

// TotalValue sums the value of accounts
func TotalValue(accounts []*Account) decimal.Decimal {
	total := decimal.Zero
	for _, a := range accounts {
		if a == nil {
			continue
		}
		total = total.Add(a.Value)
	}
	return total
}

// AttachPositions sets the back-reference on every position and assigns
// identifiers to positions that have none
func (a *Account) AttachPositions() {
	for _, p := range a.Positions {
		if p == nil {
			continue
		}
		p.AccountNumber = a.AccountNumber
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
	}
}
