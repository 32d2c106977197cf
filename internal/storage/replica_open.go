package storage

import (
	"fmt"
	"time"

	"github.com/portfolio-client/internal/config"
	"github.com/portfolio-client/internal/logging"
)

// OpenReplica connects the replica selected by cfg, migrates its schema and
// returns the store with a function releasing the connection
func OpenReplica(cfg *config.Config, clock func() time.Time, logger *logging.Logger) (*ReplicaStore, func(), error) {
	switch cfg.Replica.Driver {
	case config.DriverSQLite:
		db, err := OpenSQLite(cfg.Replica.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := RunMigrations(DialectSQLite, cfg.Replica.Path); err != nil {
			db.Close()
			return nil, nil, err
		}
		store := NewReplicaStore(ReplicaStoreConfig{
			DB:        db,
			Dialect:   DialectSQLite,
			Retention: cfg.Replica.SnapshotRetention,
			Clock:     clock,
			Logger:    logger,
		})
		return store, func() { _ = db.Close() }, nil

	case config.DriverPostgres:
		pg, err := NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := RunMigrations(DialectPostgres, cfg.Database.Postgres.PostgresURL()); err != nil {
			pg.Close()
			return nil, nil, err
		}
		store := NewReplicaStore(ReplicaStoreConfig{
			DB:        pg.SQL(),
			Dialect:   DialectPostgres,
			Retention: cfg.Replica.SnapshotRetention,
			Clock:     clock,
			Logger:    logger,
		})
		return store, pg.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown replica driver %q", cfg.Replica.Driver)
	}
}
