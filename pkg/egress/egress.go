// Package egress governs outbound HTTP requests made on behalf of a
// run: every target is policy-gated, rate-limited per domain, and
// recorded for audit before (and regardless of) being allowed through.
package egress

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/learning"
	"github.com/agentctl/sentryd/pkg/metrics"
	"github.com/agentctl/sentryd/pkg/policy"
	"github.com/agentctl/sentryd/pkg/uow"
)

// RateLimitWindow is the egress rate-limit bucket width. The spec
// leaves sliding-vs-fixed unspecified; a fixed 1-hour bucket keyed by
// (workspace_id, target_domain, bucket_start) is the documented
// default (see the decision log).
const RateLimitWindow = time.Hour

// Request describes an outbound call a run wants to make.
type Request struct {
	WorkspaceID string
	RunID       *string
	Action      string // e.g. "external.write", "internal.read"
	TargetURL   string
	Method      string
	ActorType   string
	ActorID     string
	PrincipalID string
	AgentID     string
	RoomID      *string
	CorrelationID string
	CausationID   *string
	Context       map[string]any
}

// Result is the outcome recorded and returned to the caller.
type Result struct {
	Decision   string // policy.Allow | policy.Deny | policy.RequireApproval | "rate_limited"
	ReasonCode string
	Blocked    bool
	TargetDomain string
	ApprovalID *string
}

const ReasonRateLimited = "rate_limit_exceeded"

// Store is the persistence surface the controller needs.
type Store interface {
	CountEgressRequestsSince(ctx context.Context, tx *sqlx.Tx, workspaceID, targetDomain string, since time.Time) (int, error)
	InsertEgressRequest(ctx context.Context, tx *sqlx.Tx, row EgressRequestRow) (int64, error)
}

// EgressRequestRow is a row to persist into sec_egress_requests.
type EgressRequestRow struct {
	WorkspaceID      string
	RunID            *string
	TargetURL        string
	TargetDomain     string
	Method           string
	PolicyDecision   string
	Blocked          bool
	ApprovalID       *string
	PolicyReasonCode string
}

// Learner runs the post-decision learning pipeline for require_approval
// or deny outcomes. Implemented by *learning.Pipeline.
type Learner interface {
	Process(ctx context.Context, u *uow.UnitOfWork, in learning.Input) error
}

// DefaultMaxRequestsPerHour is the default rate-limit ceiling per
// (workspace, domain); overridable via EGRESS_MAX_REQUESTS_PER_HOUR.
const DefaultMaxRequestsPerHour = 100

// Controller evaluates and records egress requests.
type Controller struct {
	store             Store
	policyCfg         policy.Config
	approvals         policy.ApprovalLookup
	maxPerHour        int
}

// Config configures the controller.
type Config struct {
	Policy            policy.Config
	Approvals         policy.ApprovalLookup
	MaxRequestsPerHour int
}

// New creates an egress Controller.
func New(store Store, cfg Config) *Controller {
	max := cfg.MaxRequestsPerHour
	if max <= 0 {
		max = DefaultMaxRequestsPerHour
	}
	return &Controller{store: store, policyCfg: cfg.Policy, approvals: cfg.Approvals, maxPerHour: max}
}

// ParseDomain extracts the lowercase hostname from a URL, the unit the
// rate limiter and audit row key on.
func ParseDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("malformed target URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("target URL has no host")
	}
	return host, nil
}

// Evaluate runs the full per-request pipeline inside u's transaction:
// parse domain, evaluate policy, apply the rate limit, persist the
// audit row, and emit egress.requested followed by the terminal
// egress.* event. A require_approval or deny outcome is also handed
// to the learning pipeline if one is supplied.
func (c *Controller) Evaluate(ctx context.Context, u *uow.UnitOfWork, learner Learner, req Request) (Result, error) {
	domain, err := ParseDomain(req.TargetURL)
	if err != nil {
		return Result{}, err
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:    streamType(req.RoomID),
		StreamID:      streamID(req.RoomID, req.RunID),
		EventType:     eventlog.EventTypeEgressRequested,
		WorkspaceID:   req.WorkspaceID,
		RoomID:        req.RoomID,
		RunID:         req.RunID,
		CorrelationID: req.CorrelationID,
		CausationID:   req.CausationID,
		Data: map[string]any{
			"target_url":    req.TargetURL,
			"target_domain": domain,
			"method":        req.Method,
			"action":        req.Action,
		},
	}); err != nil {
		return Result{}, fmt.Errorf("emit egress.requested: %w", err)
	}

	decision, err := policy.Evaluate(ctx, c.policyCfg, c.approvals, policy.Input{
		Action:      req.Action,
		ActorType:   req.ActorType,
		ActorID:     req.ActorID,
		PrincipalID: req.PrincipalID,
		WorkspaceID: req.WorkspaceID,
		RoomID:      roomIDOf(req.RoomID),
		TargetURL:   req.TargetURL,
		Context:     req.Context,
	})
	if err != nil {
		return Result{}, fmt.Errorf("evaluate policy: %w", err)
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:    streamType(req.RoomID),
		StreamID:      streamID(req.RoomID, req.RunID),
		EventType:     eventlog.EventTypePolicyEvaluated,
		WorkspaceID:   req.WorkspaceID,
		RoomID:        req.RoomID,
		RunID:         req.RunID,
		CorrelationID: req.CorrelationID,
		CausationID:   req.CausationID,
		Data: map[string]any{
			"action":      req.Action,
			"decision":    decision.Decision,
			"reason_code": decision.ReasonCode,
			"binding":     decision.Binding,
		},
	}); err != nil {
		return Result{}, fmt.Errorf("emit policy.evaluated: %w", err)
	}

	result := Result{
		Decision:     decision.Decision,
		ReasonCode:   decision.ReasonCode,
		TargetDomain: domain,
		Blocked:      decision.Decision != policy.Allow,
	}

	// Rate limit only gates requests that policy would otherwise allow;
	// a denied or approval-gated request is recorded as such regardless.
	if decision.Decision == policy.Allow {
		count, err := c.store.CountEgressRequestsSince(ctx, u.Tx(), req.WorkspaceID, domain, time.Now().UTC().Truncate(RateLimitWindow))
		if err != nil {
			return Result{}, fmt.Errorf("count recent egress requests: %w", err)
		}
		if count >= c.maxPerHour {
			result.Decision = "rate_limited"
			result.ReasonCode = ReasonRateLimited
			result.Blocked = true
		}
	}

	if _, err := c.store.InsertEgressRequest(ctx, u.Tx(), EgressRequestRow{
		WorkspaceID:      req.WorkspaceID,
		RunID:            req.RunID,
		TargetURL:        req.TargetURL,
		TargetDomain:     domain,
		Method:           req.Method,
		PolicyDecision:   result.Decision,
		Blocked:          result.Blocked,
		ApprovalID:       result.ApprovalID,
		PolicyReasonCode: result.ReasonCode,
	}); err != nil {
		return Result{}, fmt.Errorf("persist egress request: %w", err)
	}

	metrics.EgressRequestsTotal.WithLabelValues(result.Decision).Inc()

	terminalEventType := eventlog.EventTypeEgressAllowed
	switch result.Decision {
	case policy.Deny, policy.RequireApproval:
		terminalEventType = eventlog.EventTypeEgressBlocked
	case "rate_limited":
		terminalEventType = eventlog.EventTypeEgressRateLimited
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:    streamType(req.RoomID),
		StreamID:      streamID(req.RoomID, req.RunID),
		EventType:     terminalEventType,
		WorkspaceID:   req.WorkspaceID,
		RoomID:        req.RoomID,
		RunID:         req.RunID,
		CorrelationID: req.CorrelationID,
		CausationID:   req.CausationID,
		Data: map[string]any{
			"target_url":    req.TargetURL,
			"target_domain": domain,
			"decision":      result.Decision,
			"reason_code":   result.ReasonCode,
		},
	}); err != nil {
		return Result{}, fmt.Errorf("emit egress terminal event: %w", err)
	}

	if learner != nil && (decision.Decision == policy.Deny || decision.Decision == policy.RequireApproval) {
		if err := learner.Process(ctx, u, learning.Input{
			WorkspaceID:   req.WorkspaceID,
			Action:        req.Action,
			ReasonCode:    decision.ReasonCode,
			Decision:      decision.Decision,
			ActorType:     req.ActorType,
			ActorID:       req.ActorID,
			PrincipalID:   req.PrincipalID,
			AgentID:       req.AgentID,
			RoomID:        req.RoomID,
			RunID:         req.RunID,
			CorrelationID: req.CorrelationID,
			CausationID:   req.CausationID,
			Context:       req.Context,
		}); err != nil {
			return Result{}, fmt.Errorf("run learning pipeline: %w", err)
		}
	}

	return result, nil
}

func streamType(roomID *string) string {
	if roomID != nil {
		return eventlog.StreamRoom
	}
	return eventlog.StreamRun
}

func streamID(roomID *string, runID *string) string {
	if roomID != nil {
		return *roomID
	}
	if runID != nil {
		return *runID
	}
	return "unscoped"
}

func roomIDOf(roomID *string) string {
	if roomID == nil {
		return ""
	}
	return *roomID
}
