package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Approval lifecycle statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// ApprovalScope is the decoded shape of proj_approvals.scope, e.g.
// {"type":"room","room_id":"rm_..."}.
type ApprovalScope struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
}

// Approval is a row of proj_approvals.
type Approval struct {
	ApprovalID string          `db:"approval_id"`
	WorkspaceID string         `db:"workspace_id"`
	Action     string          `db:"action"`
	Scope      json.RawMessage `db:"scope"`
	Status     string          `db:"status"`
	DecidedBy  *string         `db:"decided_by"`
	DecidedAt  *time.Time      `db:"decided_at"`
	Context    json.RawMessage `db:"context"`
	CreatedAt  time.Time       `db:"created_at"`
}

// CreateApproval inserts a pending approval under a pre-allocated
// approvalID (the stream id the approval.created event was already
// appended under, for workspace-scoped approvals).
func (s *Store) CreateApproval(ctx context.Context, ex Ext, approvalID, workspaceID, action string, scope ApprovalScope, context json.RawMessage) (*Approval, error) {
	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return nil, fmt.Errorf("marshal approval scope: %w", err)
	}
	a := &Approval{
		ApprovalID: approvalID, WorkspaceID: workspaceID, Action: action,
		Scope: scopeJSON, Status: ApprovalPending, Context: context, CreatedAt: time.Now().UTC(),
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO proj_approvals (approval_id, workspace_id, action, scope, status, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ApprovalID, a.WorkspaceID, a.Action, a.Scope, a.Status, a.Context, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert approval: %w", err)
	}
	return a, nil
}

// GetApproval loads an approval within a workspace.
func (s *Store) GetApproval(ctx context.Context, ex Ext, workspaceID, approvalID string) (*Approval, error) {
	var a Approval
	err := sqlx.GetContext(ctx, ex, &a, `
		SELECT approval_id, workspace_id, action, scope, status, decided_by, decided_at, context, created_at
		FROM proj_approvals WHERE workspace_id = $1 AND approval_id = $2`,
		workspaceID, approvalID,
	)
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return &a, nil
}

// DecideApproval sets an approval's terminal decision. Idempotent on
// (approval_id, decision): deciding an already-decided approval with
// the same outcome is a no-op that returns the existing row.
func (s *Store) DecideApproval(ctx context.Context, ex Ext, workspaceID, approvalID, decision, decidedBy string) (*Approval, error) {
	existing, err := s.GetApproval(ctx, ex, workspaceID, approvalID)
	if err != nil {
		return nil, err
	}
	if existing.Status == decision {
		return existing, nil
	}

	_, err = ex.ExecContext(ctx, `
		UPDATE proj_approvals SET status = $3, decided_by = $4, decided_at = now()
		WHERE workspace_id = $1 AND approval_id = $2`,
		workspaceID, approvalID, decision, decidedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("decide approval: %w", err)
	}
	return s.GetApproval(ctx, ex, workspaceID, approvalID)
}

// ActiveApprovalExists implements policy.ApprovalLookup: true if an
// approved approval exists for the action whose scope matches the
// given room (room-scoped approvals match only their own room_id;
// non-room scopes match regardless of roomID).
func (s *Store) ActiveApprovalExists(ctx context.Context, workspaceID, action, roomID string) (bool, error) {
	var approvals []Approval
	err := s.DB.SelectContext(ctx, &approvals, `
		SELECT approval_id, workspace_id, action, scope, status, decided_by, decided_at, context, created_at
		FROM proj_approvals
		WHERE workspace_id = $1 AND action = $2 AND status = $3`,
		workspaceID, action, ApprovalApproved,
	)
	if err != nil {
		return false, fmt.Errorf("list active approvals: %w", err)
	}

	for _, a := range approvals {
		var scope ApprovalScope
		if err := json.Unmarshal(a.Scope, &scope); err != nil {
			continue
		}
		if scope.Type == "room" {
			if scope.RoomID == roomID && roomID != "" {
				return true, nil
			}
			continue
		}
		return true, nil
	}
	return false, nil
}
