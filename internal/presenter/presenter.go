// Package presenter renders accounts, load outcomes and cache state as text
// for the command line.
package presenter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/portfolio-client/internal/models"
	"github.com/portfolio-client/internal/service"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency every amount from the service is in
const DefaultCurrency = money.EUR

// Presenter writes human readable output
type Presenter struct {
	w        io.Writer
	currency string
	location *time.Location
	now      func() time.Time
}

// New returns a Presenter writing to w. Timestamps are shown in loc, or
// in local time when loc is nil.
func New(w io.Writer, loc *time.Location) *Presenter {
	if loc == nil {
		loc = time.Local
	}
	return &Presenter{w: w, currency: DefaultCurrency, location: loc, now: time.Now}
}

// WithClock overrides the clock used for relative ages
func (p *Presenter) WithClock(now func() time.Time) *Presenter {
	p.now = now
	return p
}

// Money formats amount in the presenter currency, e.g. "€1,500.25"
func (p *Presenter) Money(amount decimal.Decimal) string {
	return FormatMoney(amount, p.currency)
}

// FormatMoney formats a major-unit amount in the given ISO currency.
// Unknown currencies fall back to the plain decimal.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

// FormatPercent formats a percentage with an explicit sign, e.g. "+20.05%"
func FormatPercent(pct decimal.Decimal) string {
	s := pct.StringFixed(2) + "%"
	if pct.IsPositive() {
		return "+" + s
	}
	return s
}

func (p *Presenter) timestamp(t time.Time) string {
	return t.In(p.location).Format("2006-01-02 15:04")
}

// Outcome renders a load outcome: the data when there is some, plus a
// status line describing where it came from
func (p *Presenter) Outcome(o *service.LoadOutcome) error {
	switch o.Kind {
	case service.OutcomeAuthenticationRequired:
		_, err := fmt.Fprintln(p.w, "Not logged in. Run `portfolio login` first.")
		return err
	case service.OutcomeFailure:
		_, err := fmt.Fprintf(p.w, "Unable to load accounts: %v\n", o.Err)
		return err
	}

	if err := p.Accounts(o.Accounts); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.w, "\nTotal: %s\n", p.Money(o.TotalValue)); err != nil {
		return err
	}
	if o.Portfolio != nil && !o.Portfolio.WeightedPerformance.IsZero() {
		if _, err := fmt.Fprintf(p.w, "Performance: %s\n", FormatPercent(o.Portfolio.WeightedPerformance)); err != nil {
			return err
		}
	}

	var source string
	switch o.Kind {
	case service.OutcomeServedFromCache:
		source = "local replica"
	case service.OutcomeServedFromNetwork:
		source = "server"
	case service.OutcomeServedFromExpiredCache:
		source = "local replica (offline)"
	}
	age := models.HumanDuration(p.now().Sub(o.AsOf))
	if _, err := fmt.Fprintf(p.w, "As of %s (%s ago, from %s)\n", p.timestamp(o.AsOf), age, source); err != nil {
		return err
	}

	if o.Advisory != "" {
		if _, err := fmt.Fprintf(p.w, "Warning: %s\n", o.Advisory); err != nil {
			return err
		}
	}
	return nil
}

// Accounts renders a table of accounts followed by their positions
func (p *Presenter) Accounts(accounts []*models.Account) error {
	if len(accounts) == 0 {
		_, err := fmt.Fprintln(p.w, "No accounts.")
		return err
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ACCOUNT\tLABEL\tVALUE\t")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", a.AccountNumber, a.DisplayLabel(), p.Money(a.Value))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, a := range accounts {
		if len(a.Positions) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(p.w, "\n%s\n", a.DisplayLabel()); err != nil {
			return err
		}
		if err := p.Positions(a.Positions); err != nil {
			return err
		}
	}
	return nil
}

// Positions renders the holdings of one account
func (p *Presenter) Positions(positions []*models.Position) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ISIN\tINSTRUMENT\tCLASS\tVALUE\tPERF\t\t")
	for _, pos := range positions {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t\n",
			pos.ISIN, pos.InstrumentName, pos.AssetClass, p.Money(pos.MarketValue), FormatPercent(pos.Performance), trend(pos))
	}
	return tw.Flush()
}

// trend marks a position as up or down
func trend(pos *models.Position) string {
	if pos.IsPerformancePositive() {
		return "▲"
	}
	return "▼"
}

// History renders the snapshots of one account, oldest first, with the
// change against the previous snapshot
func (p *Presenter) History(account string, snapshots []*models.Snapshot) error {
	if len(snapshots) == 0 {
		_, err := fmt.Fprintf(p.w, "No history for account %s.\n", account)
		return err
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CAPTURED\tVALUE\tCHANGE\tPOSITIONS\t")
	for i, s := range snapshots {
		change := "-"
		if i > 0 {
			delta := s.Value.Sub(snapshots[i-1].Value)
			change = p.Money(delta)
			if delta.IsPositive() {
				change = "+" + change
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t\n", p.timestamp(s.CapturedAt), p.Money(s.Value), change, len(s.Positions))
	}
	return tw.Flush()
}

// CacheInfo renders the server-side cache description
func (p *Presenter) CacheInfo(info *models.CacheInfo) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Server cache: %s\n", info.Status())
	if info.Exists() {
		fmt.Fprintf(&b, "  Created:   %s\n", *info.Timestamp)
		if info.AgeHuman != nil {
			fmt.Fprintf(&b, "  Age:       %s\n", *info.AgeHuman)
		}
		if info.ExpiresInHuman != nil {
			fmt.Fprintf(&b, "  Expires in: %s\n", *info.ExpiresInHuman)
		}
		if size := info.SizeHuman(); size != "" {
			fmt.Fprintf(&b, "  Size:      %s\n", size)
		}
	}
	fmt.Fprintf(&b, "  TTL:       %s\n", info.TTLHuman())
	if info.Message != nil && *info.Message != "" {
		fmt.Fprintf(&b, "  %s\n", *info.Message)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Status renders the local replica summary
func (p *Presenter) Status(status *models.ReplicaStatus) error {
	var b strings.Builder
	login := "no"
	if status.LoggedIn {
		login = "yes"
	}
	fmt.Fprintf(&b, "Logged in: %s\n", login)

	if status.LastSyncAt == nil {
		b.WriteString("Replica:   empty\n")
	} else {
		freshness := "stale"
		if status.Fresh {
			freshness = "fresh"
		}
		fmt.Fprintf(&b, "Replica:   %d accounts, %d snapshots", status.AccountsCount, status.SnapshotCount)
		if status.SnapshotRetention > 0 {
			fmt.Fprintf(&b, " (last %d kept)", status.SnapshotRetention)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Last sync: %s (%s ago, %s)\n",
			p.timestamp(*status.LastSyncAt), models.HumanDuration(status.Age), freshness)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}
