package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/portfolio-client/internal/errors"
	"github.com/portfolio-client/internal/logging"
	"github.com/portfolio-client/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultSnapshotRetention is how many snapshots survive a prune
const DefaultSnapshotRetention = 20

// ReplicaStoreConfig configures a ReplicaStore
type ReplicaStoreConfig struct {
	DB        *sql.DB
	Dialect   Dialect
	Retention int
	Clock     func() time.Time
	Logger    *logging.Logger
}

// ReplicaStore is the on-device mirror of the remote accounts plus the
// snapshot history. The mirror is only ever replaced wholesale.
type ReplicaStore struct {
	db        *sql.DB
	dialect   Dialect
	retention int
	now       func() time.Time
	logger    *logging.Logger

	// serializes writers; readers go straight to the database
	writeMu sync.Mutex
}

// NewReplicaStore creates a store over an already migrated database
func NewReplicaStore(cfg ReplicaStoreConfig) *ReplicaStore {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultSnapshotRetention
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = DialectSQLite
	}

	return &ReplicaStore{
		db:        cfg.DB,
		dialect:   dialect,
		retention: retention,
		now:       clock,
		logger:    logger.Component("replica_store"),
	}
}

// Retention returns the number of snapshots kept after each sync
func (s *ReplicaStore) Retention() int {
	return s.retention
}

// LoadCachedAccounts returns every cached account ordered by account number,
// with positions in the order the server returned them
func (s *ReplicaStore) LoadCachedAccounts(ctx context.Context) ([]*models.Account, error) {
	accounts, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load cached accounts", err)
	}
	if len(accounts) == 0 {
		return []*models.Account{}, nil
	}

	byNumber := make(map[string]*models.Account, len(accounts))
	for _, a := range accounts {
		byNumber[a.AccountNumber] = a
	}

	if err := s.loadPositions(ctx, byNumber); err != nil {
		return nil, apperrors.NewStorageError("load cached positions", err)
	}
	return accounts, nil
}

func (s *ReplicaStore) loadAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_number, label, value, stats
		FROM accounts
		ORDER BY account_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a := &models.Account{Positions: []*models.Position{}}
		var stats sql.NullString
		if err := rows.Scan(&a.AccountNumber, &a.Label, &a.Value, &stats); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		if stats.Valid && stats.String != "" {
			var st models.AccountStats
			if err := json.Unmarshal([]byte(stats.String), &st); err != nil {
				return nil, fmt.Errorf("failed to decode stats for %s: %w", a.AccountNumber, err)
			}
			a.Stats = &st
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *ReplicaStore) loadPositions(ctx context.Context, byNumber map[string]*models.Account) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_number, isin, instrument_name, purchase_value, market_value,
		       snapshot_date, quantity, unrealized_pnl, realized_pnl, weight,
		       asset_class_code, performance, asset_class, closing_price
		FROM positions
		ORDER BY account_number, ordinal
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		p := &models.Position{}
		var snapshotDate sql.NullInt64
		if err := rows.Scan(
			&p.ID, &p.AccountNumber, &p.ISIN, &p.InstrumentName, &p.PurchaseValue, &p.MarketValue,
			&snapshotDate, &p.Quantity, &p.UnrealizedPnL, &p.RealizedPnL, &p.Weight,
			&p.AssetClassCode, &p.Performance, &p.AssetClass, &p.ClosingPrice,
		); err != nil {
			return fmt.Errorf("failed to scan position: %w", err)
		}
		if snapshotDate.Valid {
			p.SnapshotDate = models.NewAPITime(time.Unix(snapshotDate.Int64, 0))
		}

		account, ok := byNumber[p.AccountNumber]
		if !ok {
			// the foreign key makes this unreachable unless the schema was altered
			return fmt.Errorf("position %s references unknown account %s", p.ID, p.AccountNumber)
		}
		account.Positions = append(account.Positions, p)
	}
	return rows.Err()
}

// MostRecentSnapshotTimestamp returns the newest snapshot time across all
// accounts; ok is false when no snapshot exists
func (s *ReplicaStore) MostRecentSnapshotTimestamp(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(captured_at) FROM snapshots`).Scan(&latest); err != nil {
		return time.Time{}, false, apperrors.NewStorageError("read last sync time", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, latest.Int64).UTC(), true, nil
}

// ReplaceAll swaps the mirrored accounts for accounts, records one snapshot
// per account and prunes the history to the retention limit. Either all of
// it happens or none of it does.
func (s *ReplicaStore) ReplaceAll(ctx context.Context, accounts []*models.Account) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("replace accounts", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	capturedAt, err := s.nextCaptureTime(ctx, tx)
	if err != nil {
		return apperrors.NewStorageError("replace accounts", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return apperrors.NewStorageError("replace accounts", fmt.Errorf("failed to delete positions: %w", err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return apperrors.NewStorageError("replace accounts", fmt.Errorf("failed to delete accounts: %w", err))
	}

	positionCount := 0
	for _, account := range accounts {
		if account == nil {
			continue
		}
		account.AttachPositions()

		if err := insertAccount(ctx, tx, account); err != nil {
			return apperrors.NewStorageError("replace accounts", err)
		}
		for i, p := range account.Positions {
			if p == nil {
				continue
			}
			if err := insertPosition(ctx, tx, p, i); err != nil {
				return apperrors.NewStorageError("replace accounts", err)
			}
			positionCount++
		}
		if err := insertSnapshot(ctx, tx, models.NewSnapshot(account, capturedAt)); err != nil {
			return apperrors.NewStorageError("replace accounts", err)
		}
	}

	pruned, err := s.pruneSnapshots(ctx, tx)
	if err != nil {
		return apperrors.NewStorageError("prune snapshots", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("replace accounts", fmt.Errorf("failed to commit: %w", err))
	}

	s.logger.WithFields(map[string]interface{}{
		"accounts":   len(accounts),
		"positions":  positionCount,
		"pruned":     pruned,
		"capturedAt": capturedAt.Format(time.RFC3339Nano),
	}).Debug("Replica replaced")
	return nil
}

// nextCaptureTime returns the store clock, nudged past the newest existing
// snapshot so capture times stay strictly increasing
func (s *ReplicaStore) nextCaptureTime(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	now := s.now().UTC()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(captured_at) FROM snapshots`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to read last capture time: %w", err)
	}
	if latest.Valid && now.UnixNano() <= latest.Int64 {
		return time.Unix(0, latest.Int64+1).UTC(), nil
	}
	return now, nil
}

func insertAccount(ctx context.Context, tx *sql.Tx, a *models.Account) error {
	var stats sql.NullString
	if a.Stats != nil {
		data, err := json.Marshal(a.Stats)
		if err != nil {
			return fmt.Errorf("failed to encode stats for %s: %w", a.AccountNumber, err)
		}
		stats = sql.NullString{String: string(data), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (account_number, label, value, stats)
		VALUES ($1, $2, $3, $4)
	`, a.AccountNumber, a.Label, a.Value, stats)
	if err != nil {
		return fmt.Errorf("failed to insert account %s: %w", a.AccountNumber, err)
	}
	return nil
}

func insertPosition(ctx context.Context, tx *sql.Tx, p *models.Position, ordinal int) error {
	var snapshotDate sql.NullInt64
	if !p.SnapshotDate.IsZero() {
		snapshotDate = sql.NullInt64{Int64: p.SnapshotDate.Unix(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (
			id, account_number, ordinal, isin, instrument_name, purchase_value, market_value,
			snapshot_date, quantity, unrealized_pnl, realized_pnl, weight,
			asset_class_code, performance, asset_class, closing_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		p.ID.String(), p.AccountNumber, ordinal, p.ISIN, p.InstrumentName, p.PurchaseValue, p.MarketValue,
		snapshotDate, p.Quantity, p.UnrealizedPnL, p.RealizedPnL, p.Weight,
		p.AssetClassCode, p.Performance, p.AssetClass, p.ClosingPrice,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position %s/%s: %w", p.AccountNumber, p.ISIN, err)
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap *models.Snapshot) error {
	positions := snap.Positions
	if positions == nil {
		positions = []*models.Position{}
	}
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot positions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, account_number, value, captured_at, positions)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.ID.String(), snap.AccountNumber, snap.Value, snap.CapturedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot for %s: %w", snap.AccountNumber, err)
	}
	return nil
}

func (s *ReplicaStore) pruneSnapshots(ctx context.Context, tx *sql.Tx) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE id NOT IN (
			SELECT id FROM snapshots
			ORDER BY captured_at DESC, account_number
			LIMIT $1
		)
	`, s.retention)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Snapshots returns the retained history of one account, oldest first
func (s *ReplicaStore) Snapshots(ctx context.Context, accountNumber string) ([]*models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_number, value, captured_at, positions
		FROM snapshots
		WHERE account_number = $1
		ORDER BY captured_at ASC
	`, accountNumber)
	if err != nil {
		return nil, apperrors.NewStorageError("load snapshots", err)
	}
	defer rows.Close()

	snapshots := []*models.Snapshot{}
	for rows.Next() {
		var (
			id         string
			value      decimal.Decimal
			capturedAt int64
			positions  string
		)
		snap := &models.Snapshot{}
		if err := rows.Scan(&id, &snap.AccountNumber, &value, &capturedAt, &positions); err != nil {
			return nil, apperrors.NewStorageError("load snapshots", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, apperrors.NewStorageError("load snapshots", err)
		}
		snap.ID = parsed
		snap.Value = value
		snap.CapturedAt = time.Unix(0, capturedAt).UTC()
		if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
			return nil, apperrors.NewStorageError("load snapshots", fmt.Errorf("failed to decode snapshot positions: %w", err))
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("load snapshots", err)
	}
	return snapshots, nil
}

// SnapshotCount returns the number of retained snapshots
func (s *ReplicaStore) SnapshotCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		return 0, apperrors.NewStorageError("count snapshots", err)
	}
	return count, nil
}

// AccountCount returns the number of mirrored accounts
func (s *ReplicaStore) AccountCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, apperrors.NewStorageError("count accounts", err)
	}
	return count, nil
}

// Clear removes the mirror and the snapshot history in one transaction
func (s *ReplicaStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("clear replica", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, stmt := range []string{`DELETE FROM positions`, `DELETE FROM accounts`, `DELETE FROM snapshots`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStorageError("clear replica", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("clear replica", err)
	}

	s.logger.Info("Replica cleared")
	return nil
}
