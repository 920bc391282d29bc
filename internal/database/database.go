// Package database provides the Postgres connection and schema migrations
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// Options tune the connection pool
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New opens and pings a database connection
func New(ctx context.Context, driver, dsn string, opts Options) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

func provider() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(log.StandardLogger())
	return goose.SetDialect("postgres")
}

// Migrate applies all pending migrations
func (db *DB) Migrate(ctx context.Context) error {
	if err := provider(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Reset rolls back every migration
func (db *DB) Reset(ctx context.Context) error {
	if err := provider(); err != nil {
		return err
	}
	return goose.DownToContext(ctx, db.DB, "migrations", 0)
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		TRUNCATE TABLE daily_wagers, self_exclusions, wager_limits, disabled_games, system_state, audit_events, history, bonus_states, balances, players CASCADE;
	`)
	return err
}
