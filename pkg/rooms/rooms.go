// Package rooms implements the conversational-surface operations spec
// §6 groups as "rooms/threads/messages read & create": each write
// appends an event through pkg/eventstore and projects it immediately
// through pkg/projector.RoomsProjector, then reads serve directly off
// the resulting rooms/threads/messages projection tables.
package rooms

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
)

type Service struct {
	pool   *pgxpool.Pool
	store  *eventstore.Store
	engine *projector.Engine
}

func NewService(pool *pgxpool.Pool, store *eventstore.Store, engine *projector.Engine) *Service {
	return &Service{pool: pool, store: store, engine: engine}
}

func (s *Service) appendAndProject(ctx context.Context, env chain.Envelope) (chain.Envelope, error) {
	applied, err := s.store.Append(ctx, eventstore.AppendInput{Envelope: env})
	if err != nil {
		return chain.Envelope{}, fmt.Errorf("rooms: append %s: %w", env.EventType, err)
	}
	if err := s.engine.ApplyEvent(ctx, applied); err != nil {
		return chain.Envelope{}, fmt.Errorf("rooms: project %s: %w", env.EventType, err)
	}
	return applied, nil
}

// Room is the read-model row returned by Get/List.
type Room struct {
	RoomID      string `json:"room_id"`
	WorkspaceID string `json:"workspace_id"`
	Title       string `json:"title"`
}

// Thread is the read-model row returned by GetThread/ListThreads.
type Thread struct {
	ThreadID string `json:"thread_id"`
	RoomID   string `json:"room_id"`
	Title    string `json:"title"`
}

// Message is the read-model row returned by ListMessages.
type Message struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	ActorKind string `json:"actor_kind"`
	ActorID   string `json:"actor_id"`
	Body      string `json:"body"`
	StreamSeq int64  `json:"stream_seq"`
}

// CreateRoom appends room.created and returns the new room_id.
func (s *Service) CreateRoom(ctx context.Context, workspaceID, title string, creator chain.Actor) (string, error) {
	roomID := uuid.NewString()
	_, err := s.appendAndProject(ctx, chain.Envelope{
		EventType:     "room.created",
		EventVersion:  1,
		WorkspaceID:   workspaceID,
		RoomID:        roomID,
		Actor:         creator,
		Zone:          chain.ZoneSupervised,
		StreamType:    chain.StreamRoom,
		StreamID:      roomID,
		CorrelationID: roomID,
		Data:          map[string]any{"title": title},
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// CreateThread appends thread.created and returns the new thread_id.
func (s *Service) CreateThread(ctx context.Context, workspaceID, roomID, title string, creator chain.Actor) (string, error) {
	threadID := uuid.NewString()
	_, err := s.appendAndProject(ctx, chain.Envelope{
		EventType:     "thread.created",
		EventVersion:  1,
		WorkspaceID:   workspaceID,
		RoomID:        roomID,
		ThreadID:      threadID,
		Actor:         creator,
		Zone:          chain.ZoneSupervised,
		StreamType:    chain.StreamRoom,
		StreamID:      roomID,
		CorrelationID: threadID,
		Data:          map[string]any{"title": title},
	})
	if err != nil {
		return "", err
	}
	return threadID, nil
}

// PostMessage appends message.posted to the room stream and returns the
// new event's id, which doubles as the message_id.
func (s *Service) PostMessage(ctx context.Context, workspaceID, roomID, threadID, body string, author chain.Actor) (string, error) {
	env, err := s.appendAndProject(ctx, chain.Envelope{
		EventType:     "message.posted",
		EventVersion:  1,
		WorkspaceID:   workspaceID,
		RoomID:        roomID,
		ThreadID:      threadID,
		Actor:         author,
		Zone:          chain.ZoneSupervised,
		StreamType:    chain.StreamRoom,
		StreamID:      roomID,
		CorrelationID: roomID,
		Data:          map[string]any{"body": body},
	})
	if err != nil {
		return "", err
	}
	return env.EventID, nil
}

// GetRoom reads a single room by id.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var r Room
	err := s.pool.QueryRow(ctx, `SELECT room_id, workspace_id, title FROM rooms WHERE room_id = $1`, roomID).
		Scan(&r.RoomID, &r.WorkspaceID, &r.Title)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("rooms: get room: %w", err)
	}
	return &r, nil
}

// ListRooms lists every room in a workspace, most recently updated first.
func (s *Service) ListRooms(ctx context.Context, workspaceID string) ([]Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_id, workspace_id, title FROM rooms
		WHERE workspace_id = $1 ORDER BY updated_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("rooms: list rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.RoomID, &r.WorkspaceID, &r.Title); err != nil {
			return nil, fmt.Errorf("rooms: scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListThreads lists every thread in a room.
func (s *Service) ListThreads(ctx context.Context, roomID string) ([]Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT thread_id, room_id, title FROM threads
		WHERE room_id = $1 ORDER BY updated_at DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("rooms: list threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var th Thread
		if err := rows.Scan(&th.ThreadID, &th.RoomID, &th.Title); err != nil {
			return nil, fmt.Errorf("rooms: scan thread: %w", err)
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// ListMessages lists every message in a room in stream_seq order, optionally
// scoped to a single thread.
func (s *Service) ListMessages(ctx context.Context, roomID, threadID string) ([]Message, error) {
	var rows pgx.Rows
	var err error
	if threadID == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT message_id, room_id, COALESCE(thread_id, ''), actor_kind, actor_id, body, stream_seq
			FROM messages WHERE room_id = $1 ORDER BY stream_seq ASC`, roomID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT message_id, room_id, COALESCE(thread_id, ''), actor_kind, actor_id, body, stream_seq
			FROM messages WHERE room_id = $1 AND thread_id = $2 ORDER BY stream_seq ASC`, roomID, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("rooms: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.RoomID, &m.ThreadID, &m.ActorKind, &m.ActorID, &m.Body, &m.StreamSeq); err != nil {
			return nil, fmt.Errorf("rooms: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
