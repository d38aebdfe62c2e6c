package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/learning"
)

// Constraint is a row of sec_constraints.
type Constraint struct {
	ConstraintID string `db:"constraint_id"`
	WorkspaceID  string `db:"workspace_id"`
	ReasonCode   string `db:"reason_code"`
	Category     string `db:"category"`
	Pattern      string `db:"pattern"`
	Guidance     *string `db:"guidance"`
	SeenCount    int    `db:"seen_count"`
}

// UpsertConstraint implements learning.Store: insert a new constraint
// with seen_count=1, or bump seen_count/updated_at on an existing one
// keyed by (workspace_id, reason_code, pattern).
func (s *Store) UpsertConstraint(ctx context.Context, tx *sqlx.Tx, p learning.ConstraintParams) (int, error) {
	var guidance interface{}
	if p.Guidance != "" {
		guidance = p.Guidance
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sec_constraints (constraint_id, workspace_id, reason_code, category, pattern, guidance, seen_count, first_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, now(), now())
		ON CONFLICT (workspace_id, reason_code, pattern)
		DO UPDATE SET seen_count = sec_constraints.seen_count + 1, updated_at = now()`,
		ids.Constraint(), p.WorkspaceID, p.ReasonCode, p.Category, p.Pattern, guidance,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert constraint: %w", err)
	}

	var seenCount int
	err = tx.GetContext(ctx, &seenCount, `
		SELECT seen_count FROM sec_constraints WHERE workspace_id = $1 AND reason_code = $2 AND pattern = $3`,
		p.WorkspaceID, p.ReasonCode, p.Pattern,
	)
	if err != nil {
		return 0, fmt.Errorf("read back constraint seen_count: %w", err)
	}
	return seenCount, nil
}

// UpsertMistakeCounter implements learning.Store: increments the per
// (workspace, reason_code, actor) mistake tally and returns the new
// count.
func (s *Store) UpsertMistakeCounter(ctx context.Context, tx *sqlx.Tx, workspaceID, reasonCode, actorKey string) (int, error) {
	var seenCount int
	err := tx.GetContext(ctx, &seenCount, `
		INSERT INTO sec_mistake_counters (workspace_id, reason_code, actor_key, seen_count, last_seen_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (workspace_id, reason_code, actor_key)
		DO UPDATE SET seen_count = sec_mistake_counters.seen_count + 1, last_seen_at = now()
		RETURNING seen_count`,
		workspaceID, reasonCode, actorKey,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert mistake counter: %w", err)
	}
	return seenCount, nil
}
