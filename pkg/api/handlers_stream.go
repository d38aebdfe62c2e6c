package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentctl/sentryd/pkg/eventlog"
)

// sseEventPayload is the wire shape of one SSE frame, named per the
// spec's frame contract rather than reusing eventlog.Event's db tags.
type sseEventPayload struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	WorkspaceID   string          `json:"workspace_id"`
	RoomID        *string         `json:"room_id"`
	ThreadID      *string         `json:"thread_id"`
	RunID         *string         `json:"run_id"`
	StepID        *string         `json:"step_id"`
	StreamType    string          `json:"stream_type"`
	StreamID      string          `json:"stream_id"`
	StreamSeq     int64           `json:"stream_seq"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   *string         `json:"causation_id"`
	Data          json.RawMessage `json:"data"`
}

func toSSEPayload(evt eventlog.Event) sseEventPayload {
	return sseEventPayload{
		EventID: evt.EventID, EventType: evt.EventType, WorkspaceID: evt.WorkspaceID,
		RoomID: evt.RoomID, ThreadID: evt.ThreadID, RunID: evt.RunID, StepID: evt.StepID,
		StreamType: evt.StreamType, StreamID: evt.StreamID, StreamSeq: evt.StreamSeq,
		CorrelationID: evt.CorrelationID, CausationID: evt.CausationID, Data: evt.Data,
	}
}

// handleRoomStream serves a room's event stream as text/event-stream:
// it first replays every event since from_seq from the database (catch
// -up), then switches to forwarding events live from the Broker. A
// client that falls too far behind the Broker's bounded queue is
// disconnected and must reconnect with a fresh from_seq.
func (s *Server) handleRoomStream(c *gin.Context) {
	roomID := c.Param("room_id")
	fromSeq := int64(0)
	if raw := c.Query("from_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			mapError(c, validationErr("invalid_from_seq", "from_seq must be a non-negative integer"))
			return
		}
		fromSeq = parsed
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		mapError(c, fmt.Errorf("streaming unsupported by response writer"))
		return
	}

	sub := s.broker.Subscribe(eventlog.StreamRoom, roomID)
	defer s.broker.Unsubscribe(sub)

	ctx := c.Request.Context()
	lastSeq := fromSeq

	const catchUpBatch = 500
	for {
		batch, err := s.log.ListSince(ctx, s.db, eventlog.StreamRoom, roomID, lastSeq, catchUpBatch)
		if err != nil {
			return
		}
		for _, evt := range batch {
			if !writeSSEFrame(c, flusher, toSSEPayload(evt)) {
				return
			}
			lastSeq = evt.StreamSeq
		}
		if len(batch) < catchUpBatch {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Overflowed:
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if evt.StreamSeq <= lastSeq {
				continue // already delivered during catch-up
			}
			if !writeSSEFrame(c, flusher, toSSEPayload(evt)) {
				return
			}
			lastSeq = evt.StreamSeq
		}
	}
}

func writeSSEFrame(c *gin.Context, flusher http.Flusher, payload sseEventPayload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", body); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
