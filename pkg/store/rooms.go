package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Room, Thread and Message are projections of proj_rooms/proj_threads/proj_messages.
type Room struct {
	RoomID      string    `db:"room_id"`
	WorkspaceID string    `db:"workspace_id"`
	Name        string    `db:"name"`
	CreatedAt   time.Time `db:"created_at"`
	LastEventID *string   `db:"last_event_id"`
}

type Thread struct {
	ThreadID    string    `db:"thread_id"`
	WorkspaceID string    `db:"workspace_id"`
	RoomID      string    `db:"room_id"`
	Title       *string   `db:"title"`
	CreatedAt   time.Time `db:"created_at"`
	LastEventID *string   `db:"last_event_id"`
}

type Message struct {
	MessageID   string    `db:"message_id"`
	WorkspaceID string    `db:"workspace_id"`
	ThreadID    string    `db:"thread_id"`
	RoomID      string    `db:"room_id"`
	AuthorType  string    `db:"author_type"`
	AuthorID    string    `db:"author_id"`
	Body        string    `db:"body"`
	CreatedAt   time.Time `db:"created_at"`
	LastEventID *string   `db:"last_event_id"`
}

// CreateRoom inserts a room projection row under a pre-allocated roomID
// (the stream id the room.created event was already appended under).
func (s *Store) CreateRoom(ctx context.Context, ex Ext, roomID, workspaceID, name, eventID string) (*Room, error) {
	r := &Room{RoomID: roomID, WorkspaceID: workspaceID, Name: name, CreatedAt: time.Now().UTC(), LastEventID: &eventID}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO proj_rooms (room_id, workspace_id, name, created_at, last_event_id)
		VALUES ($1, $2, $3, $4, $5)`,
		r.RoomID, r.WorkspaceID, r.Name, r.CreatedAt, r.LastEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return r, nil
}

// CreateThread inserts a thread projection row under a room, using a
// pre-allocated threadID.
func (s *Store) CreateThread(ctx context.Context, ex Ext, threadID, workspaceID, roomID string, title *string, eventID string) (*Thread, error) {
	t := &Thread{ThreadID: threadID, WorkspaceID: workspaceID, RoomID: roomID, Title: title, CreatedAt: time.Now().UTC(), LastEventID: &eventID}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO proj_threads (thread_id, workspace_id, room_id, title, created_at, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ThreadID, t.WorkspaceID, t.RoomID, t.Title, t.CreatedAt, t.LastEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return t, nil
}

// GetThread loads a thread within a workspace, used to resolve its
// owning room before appending a message event.
func (s *Store) GetThread(ctx context.Context, ex Ext, workspaceID, threadID string) (*Thread, error) {
	var t Thread
	err := sqlx.GetContext(ctx, ex, &t, `
		SELECT thread_id, workspace_id, room_id, title, created_at, last_event_id
		FROM proj_threads WHERE workspace_id = $1 AND thread_id = $2`,
		workspaceID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

// CreateMessage inserts a message projection row under a pre-allocated
// messageID.
func (s *Store) CreateMessage(ctx context.Context, ex Ext, messageID, workspaceID, threadID, roomID, authorType, authorID, body, eventID string) (*Message, error) {
	m := &Message{
		MessageID: messageID, WorkspaceID: workspaceID, ThreadID: threadID, RoomID: roomID,
		AuthorType: authorType, AuthorID: authorID, Body: body, CreatedAt: time.Now().UTC(), LastEventID: &eventID,
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO proj_messages (message_id, workspace_id, thread_id, room_id, author_type, author_id, body, created_at, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.MessageID, m.WorkspaceID, m.ThreadID, m.RoomID, m.AuthorType, m.AuthorID, m.Body, m.CreatedAt, m.LastEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}
