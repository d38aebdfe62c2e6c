package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/ids"
)

// Principal is a row of sec_principals.
type Principal struct {
	PrincipalID     string    `db:"principal_id"`
	WorkspaceID     string    `db:"workspace_id"`
	PrincipalType   string    `db:"principal_type"`
	LegacyActorType string    `db:"legacy_actor_type"`
	LegacyActorID   string    `db:"legacy_actor_id"`
	CreatedAt       time.Time `db:"created_at"`
}

// Principal types.
const (
	PrincipalTypeUser    = "user"
	PrincipalTypeService = "service"
	PrincipalTypeAgent   = "agent"
)

// EnsureByActor idempotently resolves a principal by its legacy actor
// identity, inserting one if it doesn't already exist within the
// workspace.
func (s *Store) EnsureByActor(ctx context.Context, ex Ext, workspaceID, principalType, legacyActorType, legacyActorID string) (*Principal, error) {
	var existing Principal
	err := sqlx.GetContext(ctx, ex, &existing, `
		SELECT principal_id, workspace_id, principal_type, legacy_actor_type, legacy_actor_id, created_at
		FROM sec_principals
		WHERE workspace_id = $1 AND legacy_actor_type = $2 AND legacy_actor_id = $3`,
		workspaceID, legacyActorType, legacyActorID,
	)
	if err == nil {
		return &existing, nil
	}

	p := &Principal{
		PrincipalID:     ids.Principal(),
		WorkspaceID:     workspaceID,
		PrincipalType:   principalType,
		LegacyActorType: legacyActorType,
		LegacyActorID:   legacyActorID,
		CreatedAt:       time.Now().UTC(),
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO sec_principals (principal_id, workspace_id, principal_type, legacy_actor_type, legacy_actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workspace_id, legacy_actor_type, legacy_actor_id) DO NOTHING`,
		p.PrincipalID, p.WorkspaceID, p.PrincipalType, p.LegacyActorType, p.LegacyActorID, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert principal: %w", err)
	}

	// Another writer may have raced us; re-read to return the canonical row.
	if err := sqlx.GetContext(ctx, ex, &existing, `
		SELECT principal_id, workspace_id, principal_type, legacy_actor_type, legacy_actor_id, created_at
		FROM sec_principals
		WHERE workspace_id = $1 AND legacy_actor_type = $2 AND legacy_actor_id = $3`,
		workspaceID, legacyActorType, legacyActorID,
	); err != nil {
		return nil, fmt.Errorf("read back principal: %w", err)
	}
	return &existing, nil
}

// GetPrincipal looks up a principal by id within a workspace.
func (s *Store) GetPrincipal(ctx context.Context, ex Ext, workspaceID, principalID string) (*Principal, error) {
	var p Principal
	err := sqlx.GetContext(ctx, ex, &p, `
		SELECT principal_id, workspace_id, principal_type, legacy_actor_type, legacy_actor_id, created_at
		FROM sec_principals
		WHERE workspace_id = $1 AND principal_id = $2`,
		workspaceID, principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return &p, nil
}
