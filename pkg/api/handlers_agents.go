package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/store"
	"github.com/agentctl/sentryd/pkg/uow"
)

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
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

	agentID := ids.Agent()
	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  eventlog.StreamAgent,
		StreamID:    agentID,
		EventType:   eventlog.EventTypeAgentRegistered,
		WorkspaceID: ws,
		Data: map[string]any{
			"display_name":      req.DisplayName,
			"legacy_actor_type": req.LegacyActorType,
			"legacy_actor_id":   req.LegacyActorID,
		},
	}); err != nil {
		mapError(c, err)
		return
	}

	agent, err := s.store.RegisterAgent(ctx, u.Tx(), agentID, ws, req.DisplayName, req.LegacyActorType, req.LegacyActorID)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) handleImportSkills(c *gin.Context) {
	agentID := c.Param("id")
	var req importSkillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	packages := make([]store.SkillImportInput, 0, len(req.Packages))
	for _, p := range req.Packages {
		var manifest []byte
		if p.ManifestBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(p.ManifestBase64)
			if err != nil {
				mapError(c, validationErr("malformed_manifest", "manifest_base64 is not valid base64"))
				return
			}
			manifest = decoded
		}
		packages = append(packages, store.SkillImportInput{
			SkillPackageID: p.SkillPackageID,
			Version:        p.Version,
			HasManifest:    p.HasManifest,
			HasSignature:   p.HasSignature,
			ManifestBytes:  manifest,
		})
	}

	u, err := uow.Begin(ctx, s.db, s.log, s.broker)
	if err != nil {
		mapError(c, err)
		return
	}
	defer func() { _ = u.Rollback() }()

	summary, err := s.store.ImportSkills(ctx, u.Tx(), ws, agentID, packages)
	if err != nil {
		mapError(c, err)
		return
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  eventlog.StreamAgent,
		StreamID:    agentID,
		EventType:   eventlog.EventTypeSkillImportCompleted,
		WorkspaceID: ws,
		Data:        summary,
	}); err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) handleReviewPendingSkills(c *gin.Context) {
	agentID := c.Param("id")
	ws := workspaceID(c)
	ctx := c.Request.Context()

	u, err := uow.Begin(ctx, s.db, s.log, s.broker)
	if err != nil {
		mapError(c, err)
		return
	}
	defer func() { _ = u.Rollback() }()

	reviewed, err := s.store.ReviewPendingSkills(ctx, u.Tx(), ws, agentID)
	if err != nil {
		mapError(c, err)
		return
	}

	if _, err := u.Append(ctx, eventlog.Append{
		StreamType:  eventlog.StreamAgent,
		StreamID:    agentID,
		EventType:   eventlog.EventTypeSkillReviewed,
		WorkspaceID: ws,
		Data:        map[string]any{"quarantined_count": reviewed},
	}); err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarantined_count": reviewed})
}

func (s *Server) handleListSnapshots(c *gin.Context) {
	agentID := c.Param("id")
	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			mapError(c, validationErr("invalid_days", "days must be a positive integer"))
			return
		}
		days = parsed
	}

	snapshots, err := s.store.ListAgentSnapshots(c.Request.Context(), s.db, workspaceID(c), agentID, days)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}
