// Package db opens the PostgreSQL pool and applies the schema migrations embedded in
// the binary, so the server migrates itself on startup.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// Connect opens the pool and waits for the database to answer, retrying with a
// doubling backoff so the server can start alongside its database container.
func Connect(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxIdle)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	if err := pingWithRetry(context.Background(), pool, connectAttempts, connectBackoff); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func pingWithRetry(ctx context.Context, p pinger, attempts int, backoff time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		slog.Warn("database not ready, retrying", "attempt", i, "retry_in", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", attempts, err)
}

func newMigrator(pool *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	drv, err := postgres.WithInstance(pool, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies every migration for "up" or rolls all of them back for "down".
// Being already at the target version is not an error.
func RunMigrations(pool *sql.DB, direction string) error {
	var step func(*migrate.Migrate) error
	switch direction {
	case "up":
		step = (*migrate.Migrate).Up
	case "down":
		step = (*migrate.Migrate).Down
	default:
		return fmt.Errorf("invalid migration direction %q (want up or down)", direction)
	}

	m, err := newMigrator(pool)
	if err != nil {
		return err
	}
	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}

// GetMigrationVersion reports the applied version. A fresh database reports 0.
func GetMigrationVersion(pool *sql.DB) (uint, bool, error) {
	m, err := newMigrator(pool)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}
