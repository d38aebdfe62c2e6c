package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestCreateApproval_InsertsPendingUnderGivenID(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO proj_approvals").
		WithArgs("apr_1", "ws_1", "external.write", sqlmock.AnyArg(), ApprovalPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	approval, err := st.CreateApproval(context.Background(), st.DB, "apr_1", "ws_1", "external.write",
		ApprovalScope{Type: "workspace"}, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, ApprovalPending, approval.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveApprovalExists_MatchesRoomScope(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	scope, _ := json.Marshal(ApprovalScope{Type: "room", RoomID: "rm_1"})
	rows := sqlmock.NewRows([]string{
		"approval_id", "workspace_id", "action", "scope", "status", "decided_by", "decided_at", "context", "created_at",
	}).AddRow("apr_1", "ws_1", "external.write", scope, ApprovalApproved, nil, nil, json.RawMessage(`{}`), time.Now())

	mock.ExpectQuery("SELECT approval_id, workspace_id, action, scope, status, decided_by, decided_at, context, created_at").
		WithArgs("ws_1", "external.write", ApprovalApproved).
		WillReturnRows(rows)

	exists, err := st.ActiveApprovalExists(context.Background(), "ws_1", "external.write", "rm_1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveApprovalExists_RoomScopeDoesNotMatchOtherRoom(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	scope, _ := json.Marshal(ApprovalScope{Type: "room", RoomID: "rm_1"})
	rows := sqlmock.NewRows([]string{
		"approval_id", "workspace_id", "action", "scope", "status", "decided_by", "decided_at", "context", "created_at",
	}).AddRow("apr_1", "ws_1", "external.write", scope, ApprovalApproved, nil, nil, json.RawMessage(`{}`), time.Now())

	mock.ExpectQuery("SELECT approval_id, workspace_id, action, scope, status, decided_by, decided_at, context, created_at").
		WithArgs("ws_1", "external.write", ApprovalApproved).
		WillReturnRows(rows)

	exists, err := st.ActiveApprovalExists(context.Background(), "ws_1", "external.write", "rm_2")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecideApproval_IdempotentOnSameDecision(t *testing.T) {
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	scope, _ := json.Marshal(ApprovalScope{Type: "workspace"})
	rows := sqlmock.NewRows([]string{
		"approval_id", "workspace_id", "action", "scope", "status", "decided_by", "decided_at", "context", "created_at",
	}).AddRow("apr_1", "ws_1", "external.write", scope, ApprovalApproved, "usr_1", time.Now(), json.RawMessage(`{}`), time.Now())

	mock.ExpectQuery("SELECT approval_id, workspace_id, action, scope, status, decided_by, decided_at, context, created_at").
		WithArgs("ws_1", "apr_1").
		WillReturnRows(rows)

	approval, err := st.DecideApproval(context.Background(), st.DB, "ws_1", "apr_1", ApprovalApproved, "usr_2")
	require.NoError(t, err)
	require.Equal(t, "usr_1", *approval.DecidedBy, "existing decision must not be overwritten")
	require.NoError(t, mock.ExpectationsWereMet())
}
