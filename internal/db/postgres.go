// Package db wraps the Postgres connection used by internal/store and runs
// schema migrations at startup.
package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// PostgresDB wraps *sql.DB so store code can take a narrow type instead of
// the stdlib handle directly.
type PostgresDB struct {
	*sql.DB
}

// NewPostgres opens a connection pool sized off the host's CPU count (8 open
// conns and 4 idle conns per core); DB load here scales with worker
// concurrency, not a fixed client count.
func NewPostgres(ctx context.Context, url string) (*PostgresDB, error) {
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}

	numCPU := runtime.NumCPU()
	conn.SetMaxOpenConns(numCPU * 8)
	conn.SetMaxIdleConns(numCPU * 4)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(15 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, err
	}

	return &PostgresDB{DB: conn}, nil
}

// RunMigrations applies every pending migration under migrationsPath.
func (db *PostgresDB) RunMigrations(migrationsPath string) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
