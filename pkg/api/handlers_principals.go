package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleEnsurePrincipal(c *gin.Context) {
	var req ensurePrincipalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}

	principal, err := s.store.EnsureByActor(c.Request.Context(), s.db, workspaceID(c),
		req.PrincipalType, req.LegacyActorType, req.LegacyActorID)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, principal)
}
