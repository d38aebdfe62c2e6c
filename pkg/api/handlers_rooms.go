package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/ids"
	"github.com/agentctl/sentryd/pkg/uow"
)

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
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

	roomID := ids.Room()
	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:  eventlog.StreamRoom,
		StreamID:    roomID,
		EventType:   eventlog.EventTypeRoomCreated,
		WorkspaceID: ws,
		Data:        map[string]any{"name": req.Name},
	})
	if err != nil {
		mapError(c, err)
		return
	}

	room, err := s.store.CreateRoom(ctx, u.Tx(), roomID, ws, req.Name, evt.EventID)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (s *Server) handleCreateThread(c *gin.Context) {
	roomID := c.Param("id")
	var req createThreadRequest
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

	threadID := ids.Thread()
	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:  eventlog.StreamRoom,
		StreamID:    roomID,
		EventType:   eventlog.EventTypeThreadCreated,
		WorkspaceID: ws,
		RoomID:      &roomID,
		Data:        map[string]any{"title": req.Title},
	})
	if err != nil {
		mapError(c, err)
		return
	}

	thread, err := s.store.CreateThread(ctx, u.Tx(), threadID, ws, roomID, req.Title, evt.EventID)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (s *Server) handleCreateMessage(c *gin.Context) {
	threadID := c.Param("id")
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, validationErr("malformed_request", err.Error()))
		return
	}
	ws := workspaceID(c)
	ctx := c.Request.Context()

	thread, err := s.store.GetThread(ctx, s.db, ws, threadID)
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

	messageID := ids.Message()
	evt, err := u.Append(ctx, eventlog.Append{
		StreamType:  eventlog.StreamRoom,
		StreamID:    thread.RoomID,
		EventType:   eventlog.EventTypeMessageCreated,
		WorkspaceID: ws,
		RoomID:      &thread.RoomID,
		ThreadID:    &threadID,
		Data: map[string]any{
			"author_type": req.AuthorType,
			"author_id":   req.AuthorID,
			"body":        req.Body,
		},
	})
	if err != nil {
		mapError(c, err)
		return
	}

	message, err := s.store.CreateMessage(ctx, u.Tx(), messageID, ws, threadID, thread.RoomID, req.AuthorType, req.AuthorID, req.Body, evt.EventID)
	if err != nil {
		mapError(c, err)
		return
	}
	if err := u.Commit(ctx); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}
