package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/store"
	"github.com/agentctl/sentryd/pkg/uow"
)

func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	u, err := uow.Begin(ctx, s.db, s.log, s.broker)
	if err != nil {
		mapError(c, err)
		return
	}
	defer func() { _ = u.Rollback() }()

	runID := ids.Run()

	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:    runStreamTypeFor(req.RoomID, runID),
		StreamID:      runStreamIDFor(req.RoomID, runID),
		EventType:     eventlog.EventTypeRunCreated,
		WorkspaceID:   ws,
		RoomID:        req.RoomID,
		ThreadID:      req.ThreadID,
		RunID:         &runID,
		CorrelationID: req.CorrelationID,
		Data:          map[string]any{"input": req.Input},
	})
	if err != nil {
		mapError(c, err)
		return
	}

	run, err := s.store.CreateRun(ctx, u.Tx(), runID, ws, req.RoomID, req.ThreadID, evt.CorrelationID, req.Input, evt.EventID)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (s *Server) handleStartRun(c *gin.Context) {
	runID := c.Param("id")
	ws := workspaceID(c)
	ctx := c.Request.Context()

	run, err := s.store.GetRun(ctx, s.db, ws, runID)
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

	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:    runStreamTypeFor(run.RoomID, runID),
		StreamID:      runStreamIDFor(run.RoomID, runID),
		EventType:     eventlog.EventTypeRunStarted,
		WorkspaceID:   ws,
		RoomID:        run.RoomID,
		ThreadID:      run.ThreadID,
		RunID:         &runID,
		CorrelationID: run.CorrelationID,
	})
	if err != nil {
		mapError(c, err)
		return
	}
	if err := s.store.StartRun(ctx, u.Tx(), runID, evt.EventID); err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": store.RunRunning})
}

func (s *Server) handleCompleteRun(c *gin.Context) {
	runID := c.Param("id")
	var req completeRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	run, err := s.store.GetRun(ctx, s.db, ws, runID)
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

	eventType := eventlog.EventTypeRunSucceeded
	if req.Status == store.RunFailed {
		eventType = eventlog.EventTypeRunFailed
	}

	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:    runStreamTypeFor(run.RoomID, runID),
		StreamID:      runStreamIDFor(run.RoomID, runID),
		EventType:     eventType,
		WorkspaceID:   ws,
		RoomID:        run.RoomID,
		ThreadID:      run.ThreadID,
		RunID:         &runID,
		CorrelationID: run.CorrelationID,
		Data:          map[string]any{"status": req.Status, "reason_code": req.ReasonCode},
	})
	if err != nil {
		mapError(c, err)
		return
	}
	if err := s.store.CompleteRun(ctx, u.Tx(), runID, req.Status, req.Output, req.ErrorMsg, req.ReasonCode, evt.EventID); err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (s *Server) handleCreateStep(c *gin.Context) {
	runID := c.Param("id")
	var req createStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	run, err := s.store.GetRun(ctx, s.db, ws, runID)
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

	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:    runStreamTypeFor(run.RoomID, runID),
		StreamID:      runStreamIDFor(run.RoomID, runID),
		EventType:     eventlog.EventTypeStepCreated,
		WorkspaceID:   ws,
		RoomID:        run.RoomID,
		ThreadID:      run.ThreadID,
		RunID:         &runID,
		CorrelationID: run.CorrelationID,
		Data:          map[string]any{"name": req.Name},
	})
	if err != nil {
		mapError(c, err)
		return
	}

	step, err := s.store.CreateStep(ctx, u.Tx(), ws, runID, req.Name, evt.EventID)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

// handleCreateArtifact attributes the artifact to the run it belongs to
// and the step that produced it: its correlation_id inherits the run's,
// and its causation_id is the step's own last_event_id, so the event
// log records that this artifact exists *because* that step occurred.
func (s *Server) handleCreateArtifact(c *gin.Context) {
	stepID := c.Param("id")
	var req createArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	run, err := s.store.GetRun(ctx, s.db, ws, req.RunID)
	if err != nil {
		mapError(c, ErrNotFound)
		return
	}
	step, err := s.store.GetStep(ctx, s.db, ws, stepID)
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

	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:    runStreamTypeFor(run.RoomID, run.RunID),
		StreamID:      runStreamIDFor(run.RoomID, run.RunID),
		EventType:     eventlog.EventTypeArtifactCreated,
		WorkspaceID:   ws,
		RoomID:        run.RoomID,
		RunID:         &req.RunID,
		StepID:        &stepID,
		CorrelationID: run.CorrelationID,
		CausationID:   step.LastEventID,
		Data:          map[string]any{"kind": req.Kind, "uri": req.URI},
	})
	if err != nil {
		mapError(c, err)
		return
	}

	artifact, err := s.store.CreateArtifact(ctx, u.Tx(), ws, req.RunID, stepID, req.Kind, req.URI, req.Metadata, evt.EventID)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, artifact)
}

func (s *Server) handleListArtifacts(c *gin.Context) {
	var runID *string
	if raw := c.Query("run_id"); raw != "" {
		runID = &raw
	}
	artifacts, err := s.store.ListArtifacts(c.Request.Context(), s.db, workspaceID(c), runID)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	artifact, err := s.store.GetArtifact(c.Request.Context(), s.db, workspaceID(c), c.Param("id"))
	if err != nil {
		mapError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, artifact)
}

// runStreamTypeFor/runStreamIDFor mirror pkg/runworker's routing: a
// room-scoped run's events land on the room's stream so SSE clients
// subscribed to the room see the whole run lifecycle; an unscoped run
// gets its own stream keyed by its own id.
func runStreamTypeFor(roomID *string, runID string) string {
	if roomID != nil {
		return eventlog.StreamRoom
	}
	return eventlog.StreamRun
}

func runStreamIDFor(roomID *string, runID string) string {
	if roomID != nil {
		return *roomID
	}
	return runID
}
