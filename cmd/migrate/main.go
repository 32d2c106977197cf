// Package main provides a CLI tool for running replica schema migrations.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/portfolio-client/internal/config"
	"github.com/portfolio-client/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		driver = flag.String("driver", "", "Replica driver: sqlite, postgres (defaults to REPLICA_DRIVER)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *driver != "" {
		cfg.Replica.Driver = *driver
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	dialect, location := replicaLocation(cfg)
	if err := runMigrations(dialect, location, *action); err != nil {
		log.Fatalf("%s migration failed: %v", dialect, err)
	}
}

// replicaLocation returns the dialect and migration location of the
// configured replica
func replicaLocation(cfg *config.Config) (storage.Dialect, string) {
	if cfg.Replica.Driver == config.DriverPostgres {
		return storage.DialectPostgres, cfg.Database.Postgres.PostgresURL()
	}
	return storage.DialectSQLite, cfg.Replica.Path
}

func runMigrations(dialect storage.Dialect, location, action string) error {
	switch action {
	case "up":
		log.Printf("Running %s migrations...", dialect)
		if dialect == storage.DialectSQLite {
			// creates the parent directory and the file
			db, err := storage.OpenSQLite(location)
			if err != nil {
				return err
			}
			db.Close()
		}
		if err := storage.RunMigrations(dialect, location); err != nil {
			return err
		}
		log.Printf("%s migrations completed successfully", dialect)

	case "down":
		log.Printf("Rolling back %s migration...", dialect)
		if err := storage.RollbackMigrations(dialect, location); err != nil {
			return err
		}
		log.Printf("%s migration rolled back successfully", dialect)

	case "version":
		version, dirty, err := storage.MigrationVersion(dialect, location)
		if err != nil {
			return err
		}
		log.Printf("Current %s migration version: %d (dirty: %v)", dialect, version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
