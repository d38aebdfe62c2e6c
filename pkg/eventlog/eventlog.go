// Package eventlog implements the append-only event log: every state
// change in the system is recorded here first, with a per-stream
// monotonic sequence number, before any projection is updated.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/ids"
)

// Event is a single row of the event log.
type Event struct {
	EventID       string          `db:"event_id"`
	StreamType    string          `db:"stream_type"`
	StreamID      string          `db:"stream_id"`
	StreamSeq     int64           `db:"stream_seq"`
	EventType     string          `db:"event_type"`
	WorkspaceID   string          `db:"workspace_id"`
	RoomID        *string         `db:"room_id"`
	ThreadID      *string         `db:"thread_id"`
	RunID         *string         `db:"run_id"`
	StepID        *string         `db:"step_id"`
	CorrelationID string          `db:"correlation_id"`
	CausationID   *string         `db:"causation_id"`
	OccurredAt    time.Time       `db:"occurred_at"`
	RecordedAt    time.Time       `db:"recorded_at"`
	Data          json.RawMessage `db:"data"`
}

// Append describes a single event to be written to a stream.
type Append struct {
	StreamType    string
	StreamID      string
	EventType     string
	WorkspaceID   string
	RoomID        *string
	ThreadID      *string
	RunID         *string
	StepID        *string
	CorrelationID string
	CausationID   *string
	Data          any
}

// Execer is the subset of *sqlx.DB / *sqlx.Tx the log needs. Passing a
// *sqlx.Tx lets callers (notably pkg/uow) append events as part of a
// larger atomic unit of work; passing the pooled *sqlx.DB is fine for
// single-event appends that don't participate in a wider transaction.
type Execer interface {
	sqlx.ExecerContext
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

// Log appends events and assigns per-stream sequence numbers.
type Log struct{}

// New returns an event log writer. It is stateless; all state lives in
// the database.
func New() *Log {
	return &Log{}
}

// Write assigns the next stream_seq for (StreamType, StreamID) and
// inserts the event row. The caller must run this against a row lock
// that serializes concurrent writers to the same stream — see
// NextStreamSeq — to guarantee stream_seq has no gaps or duplicates.
// If a.CorrelationID is empty, one is minted here rather than left for
// the caller to remember: every event is part of some correlated chain,
// even a lone room/agent mutation with no originating run.
func (l *Log) Write(ctx context.Context, ex Execer, a Append) (*Event, error) {
	seq, err := l.NextStreamSeq(ctx, ex, a.StreamType, a.StreamID)
	if err != nil {
		return nil, fmt.Errorf("assign stream_seq: %w", err)
	}

	data, err := json.Marshal(a.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	correlationID := a.CorrelationID
	if correlationID == "" {
		correlationID = ids.Correlation()
	}

	now := time.Now().UTC()
	evt := &Event{
		EventID:       ids.Event(),
		StreamType:    a.StreamType,
		StreamID:      a.StreamID,
		StreamSeq:     seq,
		EventType:     a.EventType,
		WorkspaceID:   a.WorkspaceID,
		RoomID:        a.RoomID,
		ThreadID:      a.ThreadID,
		RunID:         a.RunID,
		StepID:        a.StepID,
		CorrelationID: correlationID,
		CausationID:   a.CausationID,
		OccurredAt:    now,
		RecordedAt:    now,
		Data:          data,
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO evt_events (
			event_id, stream_type, stream_id, stream_seq, event_type,
			workspace_id, room_id, thread_id, run_id, step_id,
			correlation_id, causation_id, occurred_at, recorded_at, data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`,
		evt.EventID, evt.StreamType, evt.StreamID, evt.StreamSeq, evt.EventType,
		evt.WorkspaceID, evt.RoomID, evt.ThreadID, evt.RunID, evt.StepID,
		evt.CorrelationID, evt.CausationID, evt.OccurredAt, evt.RecordedAt, evt.Data,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return evt, nil
}

// NextStreamSeq atomically reserves the next sequence number for a
// stream. It seeds evt_stream_sequences with INSERT ... ON CONFLICT DO
// NOTHING, then increments it with UPDATE ... RETURNING, whose row lock
// keeps two concurrent appenders to the same stream from observing the
// same seq. Callers must invoke this inside a
// transaction for the lock to hold until commit.
func (l *Log) NextStreamSeq(ctx context.Context, ex Execer, streamType, streamID string) (int64, error) {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO evt_stream_sequences (stream_type, stream_id, last_seq)
		VALUES ($1, $2, 0)
		ON CONFLICT (stream_type, stream_id) DO NOTHING`,
		streamType, streamID,
	)
	if err != nil {
		return 0, fmt.Errorf("seed stream sequence: %w", err)
	}

	row := ex.QueryRowxContext(ctx, `
		UPDATE evt_stream_sequences
		SET last_seq = last_seq + 1
		WHERE stream_type = $1 AND stream_id = $2
		RETURNING last_seq`,
		streamType, streamID,
	)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("increment stream sequence: %w", err)
	}
	return seq, nil
}

// ListSince returns events for a stream with stream_seq strictly greater
// than sinceSeq, ordered ascending, used by the room SSE stream handler
// for catch-up replay.
func (l *Log) ListSince(ctx context.Context, db *sqlx.DB, streamType, streamID string, sinceSeq int64, limit int) ([]Event, error) {
	var events []Event
	err := db.SelectContext(ctx, &events, `
		SELECT event_id, stream_type, stream_id, stream_seq, event_type,
		       workspace_id, room_id, thread_id, run_id, step_id,
		       correlation_id, causation_id, occurred_at, recorded_at, data
		FROM evt_events
		WHERE stream_type = $1 AND stream_id = $2 AND stream_seq > $3
		ORDER BY stream_seq ASC
		LIMIT $4`,
		streamType, streamID, sinceSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events since seq: %w", err)
	}
	return events, nil
}
