package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AgentSnapshot is a row of sec_agent_snapshots: the daily rollup of
// an agent's trust and learning-activity metrics.
type AgentSnapshot struct {
	ID                       int64     `db:"id"`
	WorkspaceID              string    `db:"workspace_id"`
	AgentID                  string    `db:"agent_id"`
	SnapshotDate             time.Time `db:"snapshot_date"`
	TrustScore               float64   `db:"trust_score"`
	AutonomyRate             float64   `db:"autonomy_rate"`
	LearningEventsCount      int       `db:"learning_events_count"`
	ConstraintsLearnedCount  int       `db:"constraints_learned_count"`
	MistakesRepeatedCount    int       `db:"mistakes_repeated_count"`
	QuarantineTriggered      bool      `db:"quarantine_triggered"`
	CreatedAt                time.Time `db:"created_at"`
}

// ListAgentIDs returns every agent id in a workspace, the enumeration
// the snapshot job walks.
func (s *Store) ListAgentIDs(ctx context.Context, ex Ext, workspaceID string) ([]string, error) {
	var agentIDs []string
	if err := sqlx.SelectContext(ctx, ex, &agentIDs, `SELECT agent_id FROM sec_agents WHERE workspace_id = $1`, workspaceID); err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}
	return agentIDs, nil
}

// ListWorkspaceIDs returns every workspace id that has at least one
// registered agent, the enumeration the snapshot job walks to cover
// every tenant rather than a single operator-configured workspace.
// sec_agents is used as the tenancy anchor since there is no
// standalone workspace-registry table.
func (s *Store) ListWorkspaceIDs(ctx context.Context, ex Ext) ([]string, error) {
	var workspaceIDs []string
	if err := sqlx.SelectContext(ctx, ex, &workspaceIDs, `SELECT DISTINCT workspace_id FROM sec_agents`); err != nil {
		return nil, fmt.Errorf("list workspace ids: %w", err)
	}
	return workspaceIDs, nil
}

// AgentSnapshotMetrics is the trailing-7-day rollup fed into UpsertAgentSnapshot.
type AgentSnapshotMetrics struct {
	TrustScore              float64
	AutonomyRate            float64
	LearningEventsCount     int
	ConstraintsLearnedCount int
	MistakesRepeatedCount   int
	QuarantineTriggered     bool
}

// ComputeAgentSnapshotMetrics derives the six snapshot metrics for an
// agent from 7 days before `date` onward. The queries have no upper
// bound, so activity recorded after `date` is counted as well.
func (s *Store) ComputeAgentSnapshotMetrics(ctx context.Context, ex Ext, workspaceID, agentID string, date time.Time) (AgentSnapshotMetrics, error) {
	since := date.AddDate(0, 0, -7)

	var m AgentSnapshotMetrics

	var agent Agent
	if err := sqlx.GetContext(ctx, ex, &agent, `
		SELECT agent_id, workspace_id, principal_id, display_name, quarantined_at, quarantine_reason, created_at
		FROM sec_agents WHERE workspace_id = $1 AND agent_id = $2`, workspaceID, agentID); err != nil {
		return m, fmt.Errorf("load agent: %w", err)
	}
	m.QuarantineTriggered = agent.QuarantinedAt != nil

	// Constraints are workspace-scoped, not per-agent, in the schema —
	// the workspace-wide count over the window is used as a proxy for
	// "recent learning activity" attributable to this agent's reports.
	if err := sqlx.GetContext(ctx, ex, &m.ConstraintsLearnedCount, `
		SELECT count(*) FROM evt_events
		WHERE workspace_id = $1 AND event_type = 'constraint.learned' AND occurred_at >= $2`,
		workspaceID, since); err != nil {
		return m, fmt.Errorf("count constraints learned: %w", err)
	}

	if err := sqlx.GetContext(ctx, ex, &m.MistakesRepeatedCount, `
		SELECT count(*) FROM evt_events
		WHERE workspace_id = $1 AND event_type = 'mistake.repeated' AND occurred_at >= $2`,
		workspaceID, since); err != nil {
		return m, fmt.Errorf("count mistakes repeated: %w", err)
	}

	if err := sqlx.GetContext(ctx, ex, &m.LearningEventsCount, `
		SELECT count(*) FROM evt_events
		WHERE workspace_id = $1 AND event_type IN ('learning.from_failure', 'constraint.learned', 'mistake.repeated')
		  AND occurred_at >= $2`,
		workspaceID, since); err != nil {
		return m, fmt.Errorf("count learning events: %w", err)
	}

	var allowed, total int
	if err := sqlx.GetContext(ctx, ex, &total, `
		SELECT count(*) FROM sec_egress_requests WHERE workspace_id = $1 AND created_at >= $2`,
		workspaceID, since); err != nil {
		return m, fmt.Errorf("count egress requests: %w", err)
	}
	if total > 0 {
		if err := sqlx.GetContext(ctx, ex, &allowed, `
			SELECT count(*) FROM sec_egress_requests WHERE workspace_id = $1 AND created_at >= $2 AND policy_decision = 'allow'`,
			workspaceID, since); err != nil {
			return m, fmt.Errorf("count allowed egress requests: %w", err)
		}
		m.AutonomyRate = float64(allowed) / float64(total)
	}

	// Default trust score: 1.0 minus a penalty per repeated mistake,
	// floored at 0.
	m.TrustScore = 1.0 - 0.1*float64(m.MistakesRepeatedCount)
	if m.TrustScore < 0 {
		m.TrustScore = 0
	}

	return m, nil
}

// UpsertAgentSnapshot writes one row per (workspace, agent, date),
// returning the number of rows actually written (0 if it already
// existed) so the caller can decide whether to emit the event.
func (s *Store) UpsertAgentSnapshot(ctx context.Context, ex Ext, workspaceID, agentID string, date time.Time, m AgentSnapshotMetrics) (int, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO sec_agent_snapshots
			(workspace_id, agent_id, snapshot_date, trust_score, autonomy_rate, learning_events_count,
			 constraints_learned_count, mistakes_repeated_count, quarantine_triggered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (workspace_id, agent_id, snapshot_date) DO NOTHING`,
		workspaceID, agentID, date, m.TrustScore, m.AutonomyRate, m.LearningEventsCount,
		m.ConstraintsLearnedCount, m.MistakesRepeatedCount, m.QuarantineTriggered,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert agent snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr
	}
	return int(n), nil
}

// ListAgentSnapshots returns an agent's snapshot time series over the
// trailing `days` days, newest first.
func (s *Store) ListAgentSnapshots(ctx context.Context, ex Ext, workspaceID, agentID string, days int) ([]AgentSnapshot, error) {
	var snapshots []AgentSnapshot
	if err := sqlx.SelectContext(ctx, ex, &snapshots, `
		SELECT id, workspace_id, agent_id, snapshot_date, trust_score, autonomy_rate, learning_events_count,
		       constraints_learned_count, mistakes_repeated_count, quarantine_triggered, created_at
		FROM sec_agent_snapshots
		WHERE workspace_id = $1 AND agent_id = $2 AND snapshot_date >= (current_date - ($3 || ' days')::interval)
		ORDER BY snapshot_date DESC`,
		workspaceID, agentID, days,
	); err != nil {
		return nil, fmt.Errorf("list agent snapshots: %w", err)
	}
	return snapshots, nil
}
