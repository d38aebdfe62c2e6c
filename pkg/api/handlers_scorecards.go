package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/uow"
)

func (s *Server) handleCreateScorecard(c *gin.Context) {
	var req createScorecardRequest
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

	recent := func(ctx context.Context) ([]float64, error) {
		return s.store.RecentScores(ctx, u.Tx(), ws, req.AgentID, 5)
	}
	overall, promote, err := s.scoreFunc(ctx, recent, req.DimensionScores)
	if err != nil {
		mapError(c, err)
		return
	}
	if !s.promotionLoopEnabled {
		promote = false
	}

	scores, err := json.Marshal(req.DimensionScores)
	if err != nil {
		mapError(c, err)
		return
	}

	scorecard, err := s.store.CreateScorecard(ctx, u.Tx(), ws, req.AgentID, req.RunID, scores, overall, promote)
	if err != nil {
		mapError(c, err)
		return
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  eventlog.StreamAgent,
		StreamID:    req.AgentID,
		EventType:   eventlog.EventTypeScorecardRecorded,
		WorkspaceID: ws,
		RunID:       req.RunID,
		Data:        map[string]any{"overall_score": overall, "promote": promote},
	}); err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scorecard)
}

func (s *Server) handleGetScorecard(c *gin.Context) {
	scorecard, err := s.store.GetScorecard(c.Request.Context(), s.db, workspaceID(c), c.Param("id"))
	if err != nil {
		mapError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, scorecard)
}

// handleCreateLesson records a lesson learned from a run, enforcing the
// spec's cross-reference validation rules: a lesson backed by a
// template must cite evidence, and the cited evidence run (if any)
// must match the run the lesson is attached to.
func (s *Server) handleCreateLesson(c *gin.Context) {
	var req createLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	if req.TemplateID != nil && req.EvidenceRunID == nil {
		mapError(c, validationErr("missing_evidence_for_template", "a template-backed lesson requires evidence_run_id"))
		return
	}
	if req.EvidenceRunID != nil && req.RunID != nil && *req.EvidenceRunID != *req.RunID {
		mapError(c, validationErr("evidence_run_mismatch", "evidence_run_id must match run_id when both are set"))
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

	lessonID := ids.Lesson()
	lesson, err := s.store.CreateLesson(ctx, u.Tx(), ws, req.RunID, req.TemplateID, req.EvidenceRunID, req.Context, req.LessonText)
	if err != nil {
		mapError(c, err)
		return
	}

	streamType, streamID := eventlog.StreamRun, lessonID
	if req.RunID != nil {
		streamID = *req.RunID
	}
	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  streamType,
		StreamID:    streamID,
		EventType:   eventlog.EventTypeLessonRecorded,
		WorkspaceID: ws,
		RunID:       req.RunID,
		Data:        map[string]any{"lesson_text": req.LessonText, "template_id": req.TemplateID},
	}); err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lesson)
}
