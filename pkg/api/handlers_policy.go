package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/policy"
	"github.com/agentctl/sentryd/pkg/uow"
)

// handleEvaluatePolicy runs the policy decision function and, inside a
// Unit-of-Work, records it: every evaluation emits policy.evaluated
// with the full decision, not just the ones reached via the egress
// path (pkg/egress.Controller.Evaluate emits its own copy on that
// path). Evaluate itself performs no writes, but the event append does,
// so it still needs a transaction.
func (s *Server) handleEvaluatePolicy(c *gin.Context) {
	var req evaluatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	decision, err := policy.Evaluate(ctx, s.policyCfg, s.store, policy.Input{
		Action:      req.Action,
		ActorType:   req.ActorType,
		ActorID:     req.ActorID,
		PrincipalID: req.PrincipalID,
		WorkspaceID: ws,
		RoomID:      req.RoomID,
		TargetURL:   req.TargetURL,
		Context:     req.Context,
	})
	if err != nil {
		mapError(c, err)
		return
	}

	u, err := uow.Begin(ctx, s.db, s.log, s.broker)
	if err != nil {
		mapError(c, err)
		return
	}
	defer func() { _ = u.Rollback() }()

	var roomIDPtr *string
	if req.RoomID != "" {
		roomIDPtr = &req.RoomID
	}
	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  policyStreamType(roomIDPtr),
		StreamID:    policyStreamID(ws, roomIDPtr),
		EventType:   eventlog.EventTypePolicyEvaluated,
		WorkspaceID: ws,
		RoomID:      roomIDPtr,
		Data: map[string]any{
			"action":      req.Action,
			"decision":    decision.Decision,
			"reason_code": decision.ReasonCode,
			"binding":     decision.Binding,
		},
	}); err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decision":    decision.Decision,
		"reason_code": decision.ReasonCode,
		"binding":     decision.Binding,
	})
}

func policyStreamType(roomID *string) string {
	if roomID != nil {
		return eventlog.StreamRoom
	}
	return eventlog.StreamPolicy
}

func policyStreamID(workspaceID string, roomID *string) string {
	if roomID != nil {
		return *roomID
	}
	return workspaceID
}
