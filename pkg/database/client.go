// Package database provides the PostgreSQL connection pool, migration
// runner, and health check used by every other package's storage layer.
package database

import (
	stdsql "database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver for database/sql
)

// Client wraps a sqlx connection pool opened on the pgx stdlib driver.
// sqlx gives every repository in pkg/store named-parameter queries and
// struct scanning without requiring generated model code.
type Client struct {
	*sqlx.DB
}

// SQLDB returns the underlying *sql.DB, e.g. for database.Health.
func (c *Client) SQLDB() *stdsql.DB {
	return c.DB.DB
}

// NewClientFromSQLX wraps an existing *sqlx.DB (used by tests).
func NewClientFromSQLX(db *sqlx.DB) *Client {
	return &Client{DB: db}
}

// NewClient opens a pooled connection, applies embedded migrations, and
// returns a ready-to-use Client.
func NewClient(cfg Config) (*Client, error) {
	db, err := sqlx.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	databaseName := dbNameFromDSN(cfg.DatabaseURL)
	if err := runMigrations(db.DB, databaseName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{DB: db}, nil
}

// dbNameFromDSN extracts a best-effort database name for golang-migrate's
// lock-namespace argument; it does not need to be exact, only stable.
func dbNameFromDSN(dsn string) string {
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] == '/' {
			name := dsn[i+1:]
			for j, r := range name {
				if r == '?' {
					return name[:j]
				}
			}
			if name != "" {
				return name
			}
			break
		}
	}
	return "sentryd"
}
