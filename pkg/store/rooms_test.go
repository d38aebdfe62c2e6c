package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return New(sqlxDB), mock, func() { _ = db.Close() }
}

func TestCreateRoom_InsertsUnderGivenID(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO proj_rooms").
		WithArgs("rm_1", "ws_1", "incident-room", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	room, err := st.CreateRoom(context.Background(), st.DB, "rm_1", "ws_1", "incident-room", "evt_1")
	require.NoError(t, err)
	require.Equal(t, "rm_1", room.RoomID)
	require.Equal(t, "ws_1", room.WorkspaceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateThread_InsertsUnderRoom(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO proj_threads").
		WithArgs("thr_1", "ws_1", "rm_1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	thread, err := st.CreateThread(context.Background(), st.DB, "thr_1", "ws_1", "rm_1", nil, "evt_2")
	require.NoError(t, err)
	require.Equal(t, "rm_1", thread.RoomID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetThread_ScansRow(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	rows := sqlmock.NewRows([]string{"thread_id", "workspace_id", "room_id", "title", "created_at", "last_event_id"}).
		AddRow("thr_1", "ws_1", "rm_1", nil, time.Now(), nil)
	mock.ExpectQuery("SELECT thread_id, workspace_id, room_id, title, created_at, last_event_id").
		WithArgs("ws_1", "thr_1").
		WillReturnRows(rows)

	thread, err := st.GetThread(context.Background(), st.DB, "ws_1", "thr_1")
	require.NoError(t, err)
	require.Equal(t, "rm_1", thread.RoomID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessage_InsertsUnderThreadAndRoom(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO proj_messages").
		WithArgs("msg_1", "ws_1", "thr_1", "rm_1", "agent", "agt_1", "hello", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	msg, err := st.CreateMessage(context.Background(), st.DB, "msg_1", "ws_1", "thr_1", "rm_1", "agent", "agt_1", "hello", "evt_3")
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Body)
	require.NoError(t, mock.ExpectationsWereMet())
}
