package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/store"
	"github.com/agentctl/sentryd/pkg/uow"
)

func (s *Server) handleCreateApproval(c *gin.Context) {
	var req createApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	if req.ScopeType == "room" && req.RoomID == "" {
		mapError(c, validationErr("lesson_context_required", "room_id is required when scope_type is room"))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	scope := store.ApprovalScope{Type: req.ScopeType, RoomID: req.RoomID}

	u, err := uow.Begin(ctx, s.db, s.log, s.broker)
	if err != nil {
		mapError(c, err)
		return
	}
	defer func() { _ = u.Rollback() }()

	approvalID := ids.Approval()
	var roomIDPtr *string
	if req.RoomID != "" {
		roomIDPtr = &req.RoomID
	}
	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  streamTypeForScope(req.ScopeType),
		StreamID:    streamIDForScope(req.ScopeType, req.RoomID, approvalID),
		EventType:   eventlog.EventTypeApprovalCreated,
		WorkspaceID: ws,
		RoomID:      roomIDPtr,
		Data:        map[string]any{"action": req.Action, "scope": scope},
	}); err != nil {
		mapError(c, err)
		return
	}

	approval, err := s.store.CreateApproval(ctx, u.Tx(), approvalID, ws, req.Action, scope, json.RawMessage(req.Context))
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, approval)
}

func (s *Server) handleDecideApproval(c *gin.Context) {
	approvalID := c.Param("id")
	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	existing, err := s.store.GetApproval(ctx, s.db, ws, approvalID)
	if err != nil {
		mapError(c, ErrNotFound)
		return
	}

	u, err := uow.Begin(ctx, s.db, s.log, s.broker)
	if err != nil {
		mapError(c, err)
		return
	}
	defer func() { _ = u.Rollback() }()

	var scope store.ApprovalScope
	_ = json.Unmarshal(existing.Scope, &scope)
	var roomIDPtr *string
	if scope.RoomID != "" {
		roomIDPtr = &scope.RoomID
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  streamTypeForScope(scope.Type),
		StreamID:    streamIDForScope(scope.Type, scope.RoomID, approvalID),
		EventType:   eventlog.EventTypeApprovalDecided,
		WorkspaceID: ws,
		RoomID:      roomIDPtr,
		Data:        map[string]any{"decision": req.Decision, "decided_by": req.DecidedBy},
	}); err != nil {
		mapError(c, err)
		return
	}

	approval, err := s.store.DecideApproval(ctx, u.Tx(), ws, approvalID, req.Decision, req.DecidedBy)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, approval)
}

func streamTypeForScope(scopeType string) string {
	if scopeType == "room" {
		return eventlog.StreamRoom
	}
	return "approval"
}

func streamIDForScope(scopeType, roomID, approvalID string) string {
	if scopeType == "room" {
		return roomID
	}
	return approvalID
}
