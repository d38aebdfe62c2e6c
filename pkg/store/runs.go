package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/ids"
)

// Run lifecycle states.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run is a row of proj_runs.
type Run struct {
	RunID          string          `db:"run_id"`
	WorkspaceID    string          `db:"workspace_id"`
	RoomID         *string         `db:"room_id"`
	ThreadID       *string         `db:"thread_id"`
	CorrelationID  string          `db:"correlation_id"`
	Status         string          `db:"status"`
	Input          json.RawMessage `db:"input"`
	Output         json.RawMessage `db:"output"`
	ErrorMessage   *string         `db:"error_message"`
	ReasonCode     *string         `db:"reason_code"`
	CreatedAt      time.Time       `db:"created_at"`
	StartedAt      *time.Time      `db:"started_at"`
	CompletedAt    *time.Time      `db:"completed_at"`
	LastEventID    *string         `db:"last_event_id"`
	LeaseWorkerID  *string         `db:"lease_worker_id"`
	LeaseExpiresAt *time.Time      `db:"lease_expires_at"`
}

// Step is a row of proj_steps.
type Step struct {
	StepID      string    `db:"step_id"`
	WorkspaceID string    `db:"workspace_id"`
	RunID       string    `db:"run_id"`
	Name        string    `db:"name"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	LastEventID *string   `db:"last_event_id"`
}

// Artifact is a row of proj_artifacts.
type Artifact struct {
	ArtifactID  string          `db:"artifact_id"`
	WorkspaceID string          `db:"workspace_id"`
	RunID       string          `db:"run_id"`
	StepID      string          `db:"step_id"`
	Kind        string          `db:"kind"`
	URI         *string         `db:"uri"`
	Metadata    json.RawMessage `db:"metadata"`
	CreatedAt   time.Time       `db:"created_at"`
	LastEventID *string         `db:"last_event_id"`
}

// ToolCall is a row of proj_tool_calls.
type ToolCall struct {
	ID          int64           `db:"id"`
	WorkspaceID string          `db:"workspace_id"`
	RunID       string          `db:"run_id"`
	ToolName    string          `db:"tool_name"`
	Status      string          `db:"status"`
	Input       json.RawMessage `db:"input"`
	Output      json.RawMessage `db:"output"`
	ReasonCode  *string         `db:"reason_code"`
	CreatedAt   time.Time       `db:"created_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// CreateRun inserts a queued run under a pre-allocated runID. The
// caller allocates the id itself (ids.Run()) because the run.created
// event that must be appended before this insert needs a stream id
// when the run isn't room-scoped, and that stream id is the run id.
func (s *Store) CreateRun(ctx context.Context, ex Ext, runID, workspaceID string, roomID, threadID *string, correlationID string, input json.RawMessage, eventID string) (*Run, error) {
	r := &Run{
		RunID: runID, WorkspaceID: workspaceID, RoomID: roomID, ThreadID: threadID,
		CorrelationID: correlationID, Status: RunQueued, Input: input,
		CreatedAt: time.Now().UTC(), LastEventID: &eventID,
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO proj_runs (run_id, workspace_id, room_id, thread_id, correlation_id, status, input, created_at, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.RunID, r.WorkspaceID, r.RoomID, r.ThreadID, r.CorrelationID, r.Status, r.Input, r.CreatedAt, r.LastEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// GetRun loads a run within a workspace.
func (s *Store) GetRun(ctx context.Context, ex Ext, workspaceID, runID string) (*Run, error) {
	var r Run
	err := sqlx.GetContext(ctx, ex, &r, `
		SELECT run_id, workspace_id, room_id, thread_id, correlation_id, status, input, output,
		       error_message, reason_code, created_at, started_at, completed_at, last_event_id,
		       lease_worker_id, lease_expires_at
		FROM proj_runs WHERE workspace_id = $1 AND run_id = $2`,
		workspaceID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// StartRun transitions a run from queued to running and stamps started_at.
func (s *Store) StartRun(ctx context.Context, ex Ext, runID, eventID string) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE proj_runs SET status = $2, started_at = now(), last_event_id = $3
		WHERE run_id = $1`,
		runID, RunRunning, eventID,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// CompleteRun transitions a run to a terminal state.
func (s *Store) CompleteRun(ctx context.Context, ex Ext, runID, status string, output json.RawMessage, errMsg, reasonCode *string, eventID string) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE proj_runs
		SET status = $2, output = $3, error_message = $4, reason_code = $5, completed_at = now(), last_event_id = $6
		WHERE run_id = $1`,
		runID, status, output, errMsg, reasonCode, eventID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// ClaimQueuedRuns locks and claims up to limit queued runs for
// workerID using SELECT ... FOR UPDATE SKIP LOCKED, setting their
// status to running and a lease that expires after leaseTTL. Must run
// inside a transaction: the row locks held by FOR UPDATE are released
// at commit, by which point the UPDATE below has already made the
// claim visible to other workers.
func (s *Store) ClaimQueuedRuns(ctx context.Context, tx *sqlx.Tx, workerID string, limit int, leaseTTL time.Duration) ([]Run, error) {
	var ids []string
	err := tx.SelectContext(ctx, &ids, `
		SELECT run_id FROM proj_runs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		RunQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select claimable runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		UPDATE proj_runs
		SET status = ?, started_at = now(), lease_worker_id = ?, lease_expires_at = now() + ?::interval
		WHERE run_id IN (?)`,
		RunRunning, workerID, fmt.Sprintf("%d seconds", int(leaseTTL.Seconds())), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("build claim update: %w", err)
	}
	query = tx.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("claim runs: %w", err)
	}

	var runs []Run
	selectQuery, selectArgs, err := sqlx.In(`
		SELECT run_id, workspace_id, room_id, thread_id, correlation_id, status, input, output,
		       error_message, reason_code, created_at, started_at, completed_at, last_event_id,
		       lease_worker_id, lease_expires_at
		FROM proj_runs WHERE run_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build claimed-run select: %w", err)
	}
	selectQuery = tx.Rebind(selectQuery)
	if err := tx.SelectContext(ctx, &runs, selectQuery, selectArgs...); err != nil {
		return nil, fmt.Errorf("load claimed runs: %w", err)
	}
	return runs, nil
}

// SweepStaleLeases reclaims runs whose lease has expired while still
// running, returning them to queued so another worker can retry them.
// This implements the stale-lease recovery the spec leaves open: a
// worker that crashed mid-run must not strand its claim forever.
func (s *Store) SweepStaleLeases(ctx context.Context, ex Ext) (int, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE proj_runs
		SET status = $1, lease_worker_id = NULL, lease_expires_at = NULL
		WHERE status = $2 AND lease_expires_at IS NOT NULL AND lease_expires_at < now()`,
		RunQueued, RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep stale leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr
	}
	return int(n), nil
}

// CreateStep inserts a step under a run.
func (s *Store) CreateStep(ctx context.Context, ex Ext, workspaceID, runID, name, eventID string) (*Step, error) {
	st := &Step{StepID: ids.Step(), WorkspaceID: workspaceID, RunID: runID, Name: name, Status: "pending", CreatedAt: time.Now().UTC(), LastEventID: &eventID}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO proj_steps (step_id, workspace_id, run_id, name, status, created_at, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.StepID, st.WorkspaceID, st.RunID, st.Name, st.Status, st.CreatedAt, st.LastEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert step: %w", err)
	}
	return st, nil
}

// GetStep loads a step within a workspace.
func (s *Store) GetStep(ctx context.Context, ex Ext, workspaceID, stepID string) (*Step, error) {
	var st Step
	err := sqlx.GetContext(ctx, ex, &st, `
		SELECT step_id, workspace_id, run_id, name, status, created_at, last_event_id
		FROM proj_steps WHERE workspace_id = $1 AND step_id = $2`,
		workspaceID, stepID,
	)
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	return &st, nil
}

// CreateArtifact inserts an artifact under a step.
func (s *Store) CreateArtifact(ctx context.Context, ex Ext, workspaceID, runID, stepID, kind string, uri *string, metadata json.RawMessage, eventID string) (*Artifact, error) {
	a := &Artifact{
		ArtifactID: ids.Artifact(), WorkspaceID: workspaceID, RunID: runID, StepID: stepID,
		Kind: kind, URI: uri, Metadata: metadata, CreatedAt: time.Now().UTC(), LastEventID: &eventID,
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO proj_artifacts (artifact_id, workspace_id, run_id, step_id, kind, uri, metadata, created_at, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ArtifactID, a.WorkspaceID, a.RunID, a.StepID, a.Kind, a.URI, a.Metadata, a.CreatedAt, a.LastEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return a, nil
}

// GetArtifact loads a single artifact within a workspace.
func (s *Store) GetArtifact(ctx context.Context, ex Ext, workspaceID, artifactID string) (*Artifact, error) {
	var a Artifact
	err := sqlx.GetContext(ctx, ex, &a, `
		SELECT artifact_id, workspace_id, run_id, step_id, kind, uri, metadata, created_at, last_event_id
		FROM proj_artifacts WHERE workspace_id = $1 AND artifact_id = $2`,
		workspaceID, artifactID,
	)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// ListArtifacts returns every artifact in a workspace, optionally
// filtered by run.
func (s *Store) ListArtifacts(ctx context.Context, ex Ext, workspaceID string, runID *string) ([]Artifact, error) {
	var artifacts []Artifact
	var err error
	if runID != nil {
		err = sqlx.SelectContext(ctx, ex, &artifacts, `
			SELECT artifact_id, workspace_id, run_id, step_id, kind, uri, metadata, created_at, last_event_id
			FROM proj_artifacts WHERE workspace_id = $1 AND run_id = $2 ORDER BY created_at ASC`,
			workspaceID, *runID,
		)
	} else {
		err = sqlx.SelectContext(ctx, ex, &artifacts, `
			SELECT artifact_id, workspace_id, run_id, step_id, kind, uri, metadata, created_at, last_event_id
			FROM proj_artifacts WHERE workspace_id = $1 ORDER BY created_at ASC`,
			workspaceID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

// CreateToolCall inserts a running tool call row.
func (s *Store) CreateToolCall(ctx context.Context, ex Ext, workspaceID, runID, toolName string, input json.RawMessage) (*ToolCall, error) {
	tc := &ToolCall{WorkspaceID: workspaceID, RunID: runID, ToolName: toolName, Status: "running", Input: input, CreatedAt: time.Now().UTC()}
	err := sqlx.GetContext(ctx, ex, &tc.ID, `
		INSERT INTO proj_tool_calls (workspace_id, run_id, tool_name, status, input, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		tc.WorkspaceID, tc.RunID, tc.ToolName, tc.Status, tc.Input, tc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert tool call: %w", err)
	}
	return tc, nil
}

// CompleteToolCall finalizes a tool call's status and output.
func (s *Store) CompleteToolCall(ctx context.Context, ex Ext, id int64, status string, output json.RawMessage, reasonCode *string) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE proj_tool_calls SET status = $2, output = $3, reason_code = $4, completed_at = now()
		WHERE id = $1`,
		id, status, output, reasonCode,
	)
	if err != nil {
		return fmt.Errorf("complete tool call: %w", err)
	}
	return nil
}
