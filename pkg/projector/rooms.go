package projector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
)

// RoomsProjector maintains the rooms, threads, and messages read models
// from room/thread/message lifecycle events.
type RoomsProjector struct{}

func (RoomsProjector) Name() string { return "rooms" }

func (RoomsProjector) Apply(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	switch env.EventType {
	case "room.created":
		title, _ := env.Data["title"].(string)
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (room_id, workspace_id, title, created_at, updated_at, last_event_id)
			VALUES ($1, $2, $3, $4, $4, $5)
			ON CONFLICT (room_id) DO NOTHING`,
			env.RoomID, env.WorkspaceID, title, env.OccurredAt, env.EventID)
		return err

	case "thread.created":
		title, _ := env.Data["title"].(string)
		_, err := tx.Exec(ctx, `
			INSERT INTO threads (thread_id, room_id, title, created_at, updated_at, last_event_id)
			VALUES ($1, $2, $3, $4, $4, $5)
			ON CONFLICT (thread_id) DO NOTHING`,
			env.ThreadID, env.RoomID, title, env.OccurredAt, env.EventID)
		return err

	case "message.posted":
		body, _ := env.Data["body"].(string)
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (message_id, room_id, thread_id, actor_kind, actor_id, body, stream_seq, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (message_id) DO NOTHING`,
			env.EventID, env.RoomID, nullableStr(env.ThreadID), string(env.Actor.Kind), env.Actor.ActorID, body, env.StreamSeq, env.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err := tx.Exec(ctx, `
			UPDATE rooms SET updated_at = $2, last_event_id = $3 WHERE room_id = $1`,
			env.RoomID, env.OccurredAt, env.EventID)
		return err
	}
	return nil
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
