// Package learning closes the loop after a policy decision of
// require_approval or deny: it redacts the triggering context,
// upserts a deduplicated constraint, tallies a per-actor mistake
// counter, and auto-quarantines an agent once that counter crosses
// threshold. It never evaluates policy itself — it only reacts to a
// decision already made.
package learning

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/metrics"
	"github.com/agentctl/sentryd/pkg/policy"
	"github.com/agentctl/sentryd/pkg/redact"
	"github.com/agentctl/sentryd/pkg/uow"
)

// MistakeRepeatedThreshold is the seen_count at which a mistake.repeated
// event is emitted.
const MistakeRepeatedThreshold = 2

// QuarantineThreshold is the seen_count at which an agent is
// auto-quarantined for repeating the same reason code.
const QuarantineThreshold = 3

// Store is the persistence surface the learning pipeline needs,
// implemented by pkg/store against sec_constraints, sec_mistake_counters
// and sec_agents.
type Store interface {
	UpsertConstraint(ctx context.Context, tx *sqlx.Tx, p ConstraintParams) (seenCount int, err error)
	UpsertMistakeCounter(ctx context.Context, tx *sqlx.Tx, workspaceID, reasonCode, actorKey string) (seenCount int, err error)
	QuarantineAgent(ctx context.Context, tx *sqlx.Tx, agentID, reason string) (alreadyQuarantined bool, err error)
}

// ConstraintParams are the fields needed to upsert a learned constraint.
type ConstraintParams struct {
	WorkspaceID string
	ReasonCode  string
	Category    string
	Pattern     string
	Guidance    string
}

// Input describes the policy decision that triggered the pipeline and
// the stream context the resulting events should be attributed to.
type Input struct {
	WorkspaceID   string
	Action        string
	ReasonCode    string
	Decision      string // policy.RequireApproval or policy.Deny
	ActorType     string
	ActorID       string
	PrincipalID   string
	AgentID       string // non-empty only when the actor is an agent
	RoomID        *string
	ThreadID      *string
	RunID         *string
	StepID        *string
	CorrelationID string
	CausationID   *string
	Context       map[string]any
}

// Pipeline runs the learning steps.
type Pipeline struct {
	store Store
}

// New creates a learning Pipeline backed by store.
func New(store Store) *Pipeline {
	return &Pipeline{store: store}
}

// correlationID returns id, or a freshly minted cor_ id when id is empty.
func correlationID(id string) string {
	if id == "" {
		return ids.Correlation()
	}
	return id
}

// Process redacts, upserts the constraint, updates the mistake
// counter, and auto-quarantines if warranted — all within u's
// transaction, so the resulting events commit atomically with the
// rows they describe.
func (p *Pipeline) Process(ctx context.Context, u *uow.UnitOfWork, in Input) error {
	if in.Decision != policy.RequireApproval && in.Decision != policy.Deny {
		return fmt.Errorf("learning pipeline invoked for non-triggering decision %q", in.Decision)
	}
	in.CorrelationID = correlationID(in.CorrelationID)

	redactedCtx := redact.Context(in.Context)
	category := deriveCategory(in.Action)
	pattern := derivePattern(in.Action, redact.Keys(redactedCtx))

	seenCount, err := p.store.UpsertConstraint(ctx, u.Tx(), ConstraintParams{
		WorkspaceID: in.WorkspaceID,
		ReasonCode:  in.ReasonCode,
		Category:    category,
		Pattern:     pattern,
	})
	if err != nil {
		return fmt.Errorf("upsert constraint: %w", err)
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:    eventlog.StreamRoom,
		StreamID:      roomStreamID(in.RoomID),
		EventType:     eventlog.EventTypeConstraintLearned,
		WorkspaceID:   in.WorkspaceID,
		RoomID:        in.RoomID,
		ThreadID:      in.ThreadID,
		RunID:         in.RunID,
		StepID:        in.StepID,
		CorrelationID: in.CorrelationID,
		CausationID:   in.CausationID,
		Data: map[string]any{
			"reason_code": in.ReasonCode,
			"category":    category,
			"pattern":     pattern,
			"seen_count":  seenCount,
		},
	}); err != nil {
		return fmt.Errorf("emit constraint.learned: %w", err)
	}
	metrics.LearningEventsTotal.WithLabelValues("constraint_learned").Inc()

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:    eventlog.StreamRoom,
		StreamID:      roomStreamID(in.RoomID),
		EventType:     eventlog.EventTypeLearningFromFailure,
		WorkspaceID:   in.WorkspaceID,
		RoomID:        in.RoomID,
		ThreadID:      in.ThreadID,
		RunID:         in.RunID,
		StepID:        in.StepID,
		CorrelationID: in.CorrelationID,
		CausationID:   in.CausationID,
		Data: map[string]any{
			"action":           in.Action,
			"reason_code":      in.ReasonCode,
			"redacted_context": redactedCtx,
		},
	}); err != nil {
		return fmt.Errorf("emit learning.from_failure: %w", err)
	}
	metrics.LearningEventsTotal.WithLabelValues("from_failure").Inc()

	actorKey := ActorKey(in.PrincipalID, in.ActorType, in.ActorID)
	mistakeCount, err := p.store.UpsertMistakeCounter(ctx, u.Tx(), in.WorkspaceID, in.ReasonCode, actorKey)
	if err != nil {
		return fmt.Errorf("upsert mistake counter: %w", err)
	}

	if mistakeCount >= MistakeRepeatedThreshold {
		if _, err := u.Append(ctx, eventlog.Append{
			StreamType:    eventlog.StreamRoom,
			StreamID:      roomStreamID(in.RoomID),
			EventType:     eventlog.EventTypeMistakeRepeated,
			WorkspaceID:   in.WorkspaceID,
			RoomID:        in.RoomID,
			ThreadID:      in.ThreadID,
			RunID:         in.RunID,
			StepID:        in.StepID,
			CorrelationID: in.CorrelationID,
			CausationID:   in.CausationID,
			Data: map[string]any{
				"repeat_count": mistakeCount,
				"reason_code":  in.ReasonCode,
			},
		}); err != nil {
			return fmt.Errorf("emit mistake.repeated: %w", err)
		}
		metrics.LearningEventsTotal.WithLabelValues("mistake_repeated").Inc()
	}

	if in.AgentID != "" && mistakeCount >= QuarantineThreshold {
		reason := "auto_repeated_" + in.ReasonCode
		_, err := p.store.QuarantineAgent(ctx, u.Tx(), in.AgentID, reason)
		if err != nil {
			return fmt.Errorf("quarantine agent: %w", err)
		}

		if _, err := u.Append(ctx, eventlog.Append{
			StreamType:    eventlog.StreamAgent,
			StreamID:      in.AgentID,
			EventType:     eventlog.EventTypeAgentQuarantined,
			WorkspaceID:   in.WorkspaceID,
			RoomID:        in.RoomID,
			ThreadID:      in.ThreadID,
			RunID:         in.RunID,
			StepID:        in.StepID,
			CorrelationID: in.CorrelationID,
			CausationID:   in.CausationID,
			Data: map[string]any{
				"mode":                "auto",
				"repeat_count":        mistakeCount,
				"trigger_reason_code": in.ReasonCode,
			},
		}); err != nil {
			return fmt.Errorf("emit agent.quarantined: %w", err)
		}
		metrics.AgentsQuarantinedTotal.Inc()
	}

	return nil
}

// ActorKey combines the principal id (preferred) or actor type+id into
// the stable key mistake counters are tallied by.
func ActorKey(principalID, actorType, actorID string) string {
	if principalID != "" {
		return principalID
	}
	return actorType + ":" + actorID
}

// deriveCategory maps an action to the constraint category it falls
// under. external.write is the only action rule today, so it always
// derives to "action"; other actions fall back to their own name.
func deriveCategory(action string) string {
	if action == policy.ActionExternalWrite {
		return "action"
	}
	return action
}

// derivePattern builds the stored, redaction-safe pattern string from
// the action and the (already redacted) context's key set.
func derivePattern(action string, redactedContextKeys []string) string {
	if len(redactedContextKeys) == 0 {
		return action
	}
	return action + ":" + strings.Join(redactedContextKeys, ",")
}

func roomStreamID(roomID *string) string {
	if roomID == nil {
		return "unscoped"
	}
	return *roomID
}
