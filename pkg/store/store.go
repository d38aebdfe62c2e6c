// Package store holds the read/write projections: the tables a
// transaction mutates alongside the events it appends. Methods take an
// explicit executor (a *sqlx.Tx when called from within a
// pkg/uow.UnitOfWork, or the pooled *sqlx.DB for read-only lookups);
// the one exception is ActiveApprovalExists, which reads through the
// Store's own pooled DB.
package store

import (
	"github.com/jmoiron/sqlx"
)

// Store bundles the pooled connection every repository method needs
// for read paths that run outside an active unit of work.
type Store struct {
	DB *sqlx.DB
}

// New creates a Store over a connected pool.
func New(db *sqlx.DB) *Store {
	return &Store{DB: db}
}

// Ext is the minimal executor surface (*sqlx.DB and *sqlx.Tx both
// satisfy it) used by every repository method so callers can run
// reads/writes either standalone or inside a transaction.
type Ext interface {
	sqlx.ExtContext
}
