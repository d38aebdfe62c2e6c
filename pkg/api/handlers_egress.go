package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/egress"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/uow"
)

func (s *Server) handleEgressRequest(c *gin.Context) {
	var req egressRequestBody
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

	result, err := s.egressCtrl.Evaluate(ctx, u, s.learner, egress.Request{
		WorkspaceID:   ws,
		RunID:         req.RunID,
		Action:        req.Action,
		TargetURL:     req.TargetURL,
		Method:        req.Method,
		ActorType:     req.ActorType,
		ActorID:       req.ActorID,
		PrincipalID:   req.PrincipalID,
		AgentID:       req.AgentID,
		RoomID:        req.RoomID,
		CorrelationID: ids.Correlation(),
		Context:       req.Context,
	})
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
