package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/sentryd/pkg/broker"
	"github.com/agentctl/sentryd/pkg/egress"
	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/learning"
	"github.com/agentctl/sentryd/pkg/policy"
	"github.com/agentctl/sentryd/pkg/store"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	st := store.New(sqlxDB)

	egressCtrl := egress.New(st, egress.Config{Approvals: st})
	learner := learning.New(st)

	srv, err := New(Deps{
		DB:                   sqlxDB,
		Store:                st,
		Log:                  eventlog.New(),
		Broker:               broker.New(),
		EgressCtrl:           egressCtrl,
		Learner:              learner,
		PolicyCfg:            policy.Config{EnforcementMode: policy.EnforcementEnforce},
		PromotionLoopEnabled: true,
	})
	require.NoError(t, err)
	return srv, mock
}

func TestHandleHealth_OK(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.ExpectPing()

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireWorkspace_MissingHeaderRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(evaluatePolicyRequest{Action: "external.write", ActorType: "agent", ActorID: "agt_1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/policy/evaluate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvaluatePolicy_ExternalWriteRequiresApproval(t *testing.T) {
	srv, mock := newTestServer(t)

	mock.ExpectQuery("SELECT approval_id, workspace_id, action, scope, status, decided_by, decided_at, context, created_at").
		WithArgs("ws_1", "external.write", "approved").
		WillReturnRows(sqlmock.NewRows([]string{
			"approval_id", "workspace_id", "action", "scope", "status", "decided_by", "decided_at", "context", "created_at",
		}))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO evt_stream_sequences").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE evt_stream_sequences").WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(1))
	mock.ExpectExec("INSERT INTO evt_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body, _ := json.Marshal(evaluatePolicyRequest{Action: "external.write", ActorType: "agent", ActorID: "agt_1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/policy/evaluate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(workspaceHeader, "ws_1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, policy.RequireApproval, got["decision"])
	require.Equal(t, policy.ReasonExternalWriteNeedsApproval, got["reason_code"])
}

func TestHandleEvaluatePolicy_MalformedBodyRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/policy/evaluate", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(workspaceHeader, "ws_1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
