package uow

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/sentryd/pkg/broker"
	"github.com/agentctl/sentryd/pkg/eventlog"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestCommit_PublishesBufferedEventsOnlyAfterCommit(t *testing.T) {
	db, mock := newMockDB(t)
	br := broker.New()
	sub := br.Subscribe("room", "rm_1")
	defer br.Unsubscribe(sub)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO evt_stream_sequences").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE evt_stream_sequences").WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(1))
	mock.ExpectExec("INSERT INTO evt_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	u, err := Begin(context.Background(), db, eventlog.New(), br)
	require.NoError(t, err)

	_, err = u.Append(context.Background(), eventlog.Append{
		StreamType: "room", StreamID: "rm_1", EventType: "room.created", WorkspaceID: "ws_1",
	})
	require.NoError(t, err)

	select {
	case <-sub.C:
		t.Fatal("event must not be published before commit")
	default:
	}

	require.NoError(t, u.Commit(context.Background()))

	select {
	case evt := <-sub.C:
		require.Equal(t, "room.created", evt.EventType)
	default:
		t.Fatal("expected event to be published after commit")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollback_DiscardsBufferedEvents(t *testing.T) {
	db, mock := newMockDB(t)
	br := broker.New()
	sub := br.Subscribe("room", "rm_1")
	defer br.Unsubscribe(sub)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO evt_stream_sequences").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE evt_stream_sequences").WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(1))
	mock.ExpectExec("INSERT INTO evt_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	u, err := Begin(context.Background(), db, eventlog.New(), br)
	require.NoError(t, err)

	_, err = u.Append(context.Background(), eventlog.Append{
		StreamType: "room", StreamID: "rm_1", EventType: "room.created", WorkspaceID: "ws_1",
	})
	require.NoError(t, err)

	require.NoError(t, u.Rollback())

	select {
	case <-sub.C:
		t.Fatal("rolled-back events must never be published")
	default:
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_TwiceReturnsError(t *testing.T) {
	db, mock := newMockDB(t)
	br := broker.New()

	mock.ExpectBegin()
	mock.ExpectCommit()

	u, err := Begin(context.Background(), db, eventlog.New(), br)
	require.NoError(t, err)
	require.NoError(t, u.Commit(context.Background()))
	require.Error(t, u.Commit(context.Background()))
}

func TestRollback_AfterCommitIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	br := broker.New()

	mock.ExpectBegin()
	mock.ExpectCommit()

	u, err := Begin(context.Background(), db, eventlog.New(), br)
	require.NoError(t, err)
	require.NoError(t, u.Commit(context.Background()))
	require.NoError(t, u.Rollback())
}
