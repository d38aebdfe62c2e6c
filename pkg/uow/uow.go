// Package uow provides a Unit of Work that ties a database transaction
// to the event log and the broker: events appended during the work are
// only visible to live subscribers once the transaction actually
// commits, and are discarded entirely if it rolls back.
package uow

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/broker"
	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/metrics"
)

// UnitOfWork wraps one database transaction and buffers the events
// appended within it. Publishing to the Broker is deferred until
// Commit succeeds, mirroring the teacher's transactional-NOTIFY
// pattern (pg_notify held until COMMIT) but fanning out in-process
// instead of via LISTEN/NOTIFY, since this system runs as a single
// process.
type UnitOfWork struct {
	tx      *sqlx.Tx
	log     *eventlog.Log
	broker  *broker.Broker
	pending []eventlog.Event
	done    bool
}

// Begin starts a new transaction-scoped unit of work.
func Begin(ctx context.Context, db *sqlx.DB, log *eventlog.Log, br *broker.Broker) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx, log: log, broker: br}, nil
}

// Tx returns the underlying transaction for projection writes that
// must be atomic with the event appends in this unit of work.
func (u *UnitOfWork) Tx() *sqlx.Tx {
	return u.tx
}

// Append writes an event within the transaction and queues it for
// publication to the Broker once Commit succeeds.
func (u *UnitOfWork) Append(ctx context.Context, a eventlog.Append) (*eventlog.Event, error) {
	evt, err := u.log.Write(ctx, u.tx, a)
	if err != nil {
		return nil, err
	}
	u.pending = append(u.pending, *evt)
	return evt, nil
}

// Commit commits the transaction and, only on success, publishes every
// buffered event to the Broker in append order.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work already finished")
	}
	u.done = true

	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, evt := range u.pending {
		metrics.EventsAppendedTotal.WithLabelValues(evt.EventType).Inc()
		u.broker.Publish(evt)
	}
	return nil
}

// Rollback discards the transaction and any buffered events. Safe to
// call after a failed Commit or as a deferred cleanup; it is a no-op
// once the unit of work has already finished.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.pending = nil
	return u.tx.Rollback()
}
