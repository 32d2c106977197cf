package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// AccountStats is the optional per-account summary computed by the server
type AccountStats struct {
	TotalPMVL           decimal.Decimal       `json:"totalPMVL"`
	WeightedPerformance decimal.Decimal       `json:"weightedPerformance"`
	TotalWeight         decimal.Decimal       `json:"totalWeight"`
	PositionsCount      int                   `json:"positionsCount"`
	Formatted           *FormattedAccountStat `json:"formatted,omitempty"`
}

// FormattedAccountStat carries server-side display strings
type FormattedAccountStat struct {
	TotalPMVL           string `json:"totalPMVL"`
	WeightedPerformance string `json:"weightedPerformance"`
	PMVLColor           string `json:"pmvlColor"`
	PerformanceColor    string `json:"performanceColor"`
}

// PortfolioStats is the portfolio-wide summary returned alongside accounts
type PortfolioStats struct {
	TotalValue              decimal.Decimal             `json:"totalValue"`
	TotalPMVL               decimal.Decimal             `json:"totalPMVL"`
	TotalPMVR               decimal.Decimal             `json:"totalPMVR"`
	WeightedPerformance     decimal.Decimal             `json:"weightedPerformance"`
	TotalWeight             decimal.Decimal             `json:"totalWeight"`
	PositionsCount          int                         `json:"positionsCount"`
	AccountsCount           int                         `json:"accountsCount"`
	PerformanceByAssetClass map[string]*AssetClassStats `json:"performanceByAssetClass,omitempty"`
	TopPerformers           []*Performer                `json:"topPerformers,omitempty"`
	WorstPerformers         []*Performer                `json:"worstPerformers,omitempty"`
	LastUpdate              string                      `json:"lastUpdate,omitempty"`
	Formatted               map[string]string           `json:"formatted,omitempty"`
}

// AssetClassStats aggregates the positions of one asset class
type AssetClassStats struct {
	TotalValue          decimal.Decimal   `json:"totalValue"`
	TotalWeight         decimal.Decimal   `json:"totalWeight"`
	WeightedPerformance decimal.Decimal   `json:"weightedPerformance"`
	PositionsCount      int               `json:"positionsCount"`
	AveragePerformance  decimal.Decimal   `json:"averagePerformance"`
	Formatted           map[string]string `json:"formatted,omitempty"`
}

// Performer is a position ranked by performance
type Performer struct {
	ISIN           string            `json:"isinCode"`
	InstrumentName string            `json:"libInstrument"`
	Performance    decimal.Decimal   `json:"performance"`
	MarketValue    decimal.Decimal   `json:"valeurMarcheDeviseSecurite"`
	Weight         decimal.Decimal   `json:"weightMinute"`
	AccountNumber  string            `json:"accountNumber"`
	AssetClass     string            `json:"classActif"`
	Formatted      map[string]string `json:"formatted,omitempty"`
}

// AccountsResponse is the payload of the accounts endpoint
type AccountsResponse struct {
	Accounts  []*Account      `json:"accounts"`
	Portfolio *PortfolioStats `json:"portfolio,omitempty"`
}

// UnmarshalJSON accepts either the extended object shape or a bare array
// of accounts, which older server versions return
func (r *AccountsResponse) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty accounts payload")
	}

	switch trimmed[0] {
	case '[':
		var accounts []*Account
		if err := json.Unmarshal(trimmed, &accounts); err != nil {
			return err
		}
		if err := validateAccounts(accounts); err != nil {
			return err
		}
		r.Accounts = accounts
		r.Portfolio = nil
		return nil
	case '{':
		type plain AccountsResponse
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return err
		}
		if p.Accounts == nil {
			return fmt.Errorf("accounts payload has no accounts field")
		}
		if err := validateAccounts(p.Accounts); err != nil {
			return err
		}
		*r = AccountsResponse(p)
		return nil
	default:
		return fmt.Errorf("unexpected accounts payload starting with %q", trimmed[0])
	}
}

// validateAccounts rejects null entries and repeated account numbers, which
// the replica cannot store
func validateAccounts(accounts []*Account) error {
	seen := make(map[string]struct{}, len(accounts))
	for i, a := range accounts {
		if a == nil {
			return fmt.Errorf("account %d is null", i)
		}
		if _, dup := seen[a.AccountNumber]; dup {
			return fmt.Errorf("duplicate account number %q", a.AccountNumber)
		}
		seen[a.AccountNumber] = struct{}{}
		for j, p := range a.Positions {
			if p == nil {
				return fmt.Errorf("account %q position %d is null", a.AccountNumber, j)
			}
		}
	}
	return nil
}
