package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestNextStreamSeq_SeedsThenIncrements(t *testing.T) {
	db, mock := newMockDB(t)
	log := New()

	mock.ExpectExec("INSERT INTO evt_stream_sequences").
		WithArgs("room", "rm_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE evt_stream_sequences").
		WithArgs("room", "rm_1").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(1))

	seq, err := log.NextStreamSeq(context.Background(), db, "room", "rm_1")
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_AssignsSeqAndInserts(t *testing.T) {
	db, mock := newMockDB(t)
	log := New()

	mock.ExpectExec("INSERT INTO evt_stream_sequences").
		WithArgs("room", "rm_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE evt_stream_sequences").
		WithArgs("room", "rm_1").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(3))
	mock.ExpectExec("INSERT INTO evt_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	evt, err := log.Write(context.Background(), db, Append{
		StreamType:    "room",
		StreamID:      "rm_1",
		EventType:     "room.created",
		WorkspaceID:   "ws_1",
		CorrelationID: "cor_1",
		Data:          map[string]any{"name": "incident-room"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), evt.StreamSeq)
	require.Equal(t, "room.created", evt.EventType)
	require.NotEmpty(t, evt.EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSince_ReturnsOrderedEvents(t *testing.T) {
	db, mock := newMockDB(t)
	log := New()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"event_id", "stream_type", "stream_id", "stream_seq", "event_type",
		"workspace_id", "room_id", "thread_id", "run_id", "step_id",
		"correlation_id", "causation_id", "occurred_at", "recorded_at", "data",
	}).
		AddRow("evt_1", "room", "rm_1", 1, "room.created", "ws_1", nil, nil, nil, nil, "cor_1", nil, now, now, []byte(`{}`)).
		AddRow("evt_2", "room", "rm_1", 2, "thread.created", "ws_1", nil, nil, nil, nil, "cor_2", nil, now, now, []byte(`{}`))

	mock.ExpectQuery("SELECT event_id, stream_type, stream_id, stream_seq, event_type").
		WithArgs("room", "rm_1", int64(0), 500).
		WillReturnRows(rows)

	events, err := log.ListSince(context.Background(), db, "room", "rm_1", 0, 500)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(1), events[0].StreamSeq)
	require.Equal(t, int64(2), events[1].StreamSeq)
	require.NoError(t, mock.ExpectationsWereMet())
}
