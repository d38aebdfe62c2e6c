// Package policy implements the pure decision function that gates
// sensitive actions. Evaluate never performs I/O beyond the read-only
// ApprovalLookup snapshot it is handed: no event emission, no writes.
// Learned constraints and mistake counters are a separate, explicit
// post-decision pipeline (see pkg/learning) so this function stays
// trivially unit-testable.
package policy

import (
	"context"
	"fmt"

	"github.com/agentctl/sentryd/pkg/metrics"
)

// Decision outcomes.
const (
	Allow           = "allow"
	Deny            = "deny"
	RequireApproval = "require_approval"
)

// Reason codes, stable strings recorded on events and egress requests.
const (
	ReasonKillSwitchActive           = "kill_switch_active"
	ReasonApprovalAllowsAction       = "approval_allows_action"
	ReasonExternalWriteNeedsApproval = "external_write_requires_approval"
	ReasonDefaultAllow               = "default_allow"
)

// ActionExternalWrite is the one built-in action rule required by spec.
const ActionExternalWrite = "external.write"

// EnforcementMode values. Outside "enforce" mode the decision is still
// computed and returned, but callers treat require_approval as
// advisory rather than binding.
const (
	EnforcementEnforce = "enforce"
)

// Config is the environment snapshot the evaluator reads. It is passed
// in by the caller rather than read from os.Getenv directly, so the
// evaluator stays a pure function of its arguments.
type Config struct {
	KillSwitchExternalWrite bool
	EnforcementMode         string
}

// Input describes the action under evaluation.
type Input struct {
	Action      string
	ActorType   string
	ActorID     string
	PrincipalID string
	WorkspaceID string
	RoomID      string
	TargetURL   string
	Context     map[string]any
}

// Decision is the evaluator's verdict.
type Decision struct {
	Decision   string
	ReasonCode string
	Binding    bool // false when EnforcementMode != "enforce"
}

// ApprovalLookup checks whether a decided "approve" exists for an
// action within a workspace and scope. Implemented by pkg/store against
// proj_approvals.
type ApprovalLookup interface {
	ActiveApprovalExists(ctx context.Context, workspaceID, action, roomID string) (bool, error)
}

// Evaluate runs the ordered decision chain: kill switch, active
// approval, built-in action rules, default allow. The first match
// wins.
func Evaluate(ctx context.Context, cfg Config, lookup ApprovalLookup, in Input) (Decision, error) {
	binding := cfg.EnforcementMode == EnforcementEnforce

	// 1. Kill switch.
	if cfg.KillSwitchExternalWrite && in.Action == ActionExternalWrite {
		return recordDecision(Decision{Decision: Deny, ReasonCode: ReasonKillSwitchActive, Binding: binding}), nil
	}

	// 2. Active approval, scoped to (action, workspace, room).
	if lookup != nil {
		allowed, err := lookup.ActiveApprovalExists(ctx, in.WorkspaceID, in.Action, in.RoomID)
		if err != nil {
			return Decision{}, fmt.Errorf("check active approval: %w", err)
		}
		if allowed {
			return recordDecision(Decision{Decision: Allow, ReasonCode: ReasonApprovalAllowsAction, Binding: binding}), nil
		}
	}

	// 3. Built-in action rules.
	if in.Action == ActionExternalWrite {
		return recordDecision(Decision{Decision: RequireApproval, ReasonCode: ReasonExternalWriteNeedsApproval, Binding: binding}), nil
	}

	// 4. Default allow.
	return recordDecision(Decision{Decision: Allow, ReasonCode: ReasonDefaultAllow, Binding: binding}), nil
}

func recordDecision(d Decision) Decision {
	metrics.PolicyDecisionsTotal.WithLabelValues(d.Decision, d.ReasonCode).Inc()
	return d
}
