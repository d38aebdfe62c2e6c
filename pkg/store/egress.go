package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/egress"
)

// EgressRequest is a row of sec_egress_requests.
type EgressRequest struct {
	ID               int64     `db:"id"`
	WorkspaceID      string    `db:"workspace_id"`
	RunID            *string   `db:"run_id"`
	TargetURL        string    `db:"target_url"`
	TargetDomain     string    `db:"target_domain"`
	Method           string    `db:"method"`
	PolicyDecision   string    `db:"policy_decision"`
	Blocked          bool      `db:"blocked"`
	ApprovalID       *string   `db:"approval_id"`
	PolicyReasonCode string    `db:"policy_reason_code"`
	CreatedAt        time.Time `db:"created_at"`
}

// CountEgressRequestsSince implements egress.Store: counts requests to
// a domain within the current rate-limit bucket.
func (s *Store) CountEgressRequestsSince(ctx context.Context, tx *sqlx.Tx, workspaceID, targetDomain string, since time.Time) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT count(*) FROM sec_egress_requests
		WHERE workspace_id = $1 AND target_domain = $2 AND created_at >= $3`,
		workspaceID, targetDomain, since,
	)
	if err != nil {
		return 0, fmt.Errorf("count egress requests: %w", err)
	}
	return count, nil
}

// InsertEgressRequest implements egress.Store.
func (s *Store) InsertEgressRequest(ctx context.Context, tx *sqlx.Tx, row egress.EgressRequestRow) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO sec_egress_requests
			(workspace_id, run_id, target_url, target_domain, method, policy_decision, blocked, approval_id, policy_reason_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING id`,
		row.WorkspaceID, row.RunID, row.TargetURL, row.TargetDomain, row.Method,
		row.PolicyDecision, row.Blocked, row.ApprovalID, row.PolicyReasonCode,
	)
	if err != nil {
		return 0, fmt.Errorf("insert egress request: %w", err)
	}
	return id, nil
}
