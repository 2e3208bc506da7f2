package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
)

func marshalContext(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("eventstore: marshal context object: %w", err)
	}
	return b, nil
}

const eventColumns = `
	event_id, event_type, event_version, occurred_at,
	workspace_id, room_id, thread_id, run_id, step_id,
	actor_kind, actor_id, actor_principal_id, zone,
	stream_type, stream_id, stream_seq,
	correlation_id, causation_id,
	redaction_level, contains_secrets,
	policy_context, model_context, display_context, data,
	idempotency_key,
	prev_event_hash, event_hash`

func scanEvent(row pgx.Row) (chain.Envelope, error) {
	var env chain.Envelope
	var workspaceID, roomID, threadID, runID, stepID *string
	var actorPrincipalID, redactionLevel, idempotencyKey *string
	var policyJSON, modelJSON, displayJSON, dataJSON []byte

	err := row.Scan(
		&env.EventID, &env.EventType, &env.EventVersion, &env.OccurredAt,
		&workspaceID, &roomID, &threadID, &runID, &stepID,
		&env.Actor.Kind, &env.Actor.ActorID, &actorPrincipalID, &env.Zone,
		&env.StreamType, &env.StreamID, &env.StreamSeq,
		&env.CorrelationID, &env.CausationID,
		&redactionLevel, &env.ContainsSecrets,
		&policyJSON, &modelJSON, &displayJSON, &dataJSON,
		&idempotencyKey,
		&env.PrevEventHash, &env.EventHash,
	)
	if err != nil {
		return chain.Envelope{}, err
	}

	env.WorkspaceID = deref(workspaceID)
	env.RoomID = deref(roomID)
	env.ThreadID = deref(threadID)
	env.RunID = deref(runID)
	env.StepID = deref(stepID)
	env.ActorPrincipalID = deref(actorPrincipalID)
	env.RedactionLevel = deref(redactionLevel)
	env.IdempotencyKey = deref(idempotencyKey)

	if env.Policy, err = unmarshalContext(policyJSON); err != nil {
		return chain.Envelope{}, err
	}
	if env.Model, err = unmarshalContext(modelJSON); err != nil {
		return chain.Envelope{}, err
	}
	if env.Display, err = unmarshalContext(displayJSON); err != nil {
		return chain.Envelope{}, err
	}
	if env.Data, err = unmarshalContext(dataJSON); err != nil {
		return chain.Envelope{}, err
	}
	return env, nil
}

func unmarshalContext(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("eventstore: unmarshal context object: %w", err)
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Store) getByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, streamType, streamID, idempotencyKey string) (*chain.Envelope, error) {
	row := tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE stream_type = $1 AND stream_id = $2 AND idempotency_key = $3`,
		streamType, streamID, idempotencyKey)
	env, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("eventstore: read idempotent replay row: %w", err)
	}
	return &env, nil
}

// GetByID fetches a single event by its event_id.
func (s *Store) GetByID(ctx context.Context, eventID string) (*chain.Envelope, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = $1`, eventID)
	env, err := scanEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("eventstore: get by id: %w", err)
	}
	return &env, nil
}

// ListSince returns every event of a stream with stream_seq > fromSeq, in
// ascending order — the contract both the projection engine (§4.4) and
// live-tail catchup (§4.9) build on.
func (s *Store) ListSince(ctx context.Context, streamType, streamID string, fromSeq int64) ([]chain.Envelope, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE stream_type = $1 AND stream_id = $2 AND stream_seq > $3
		ORDER BY stream_seq ASC`,
		streamType, streamID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("eventstore: list since: %w", err)
	}
	defer rows.Close()

	var out []chain.Envelope
	for rows.Next() {
		env, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("eventstore: scan list since row: %w", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: list since iteration: %w", err)
	}
	return out, nil
}

// QueryFilter is the events-query endpoint's filter set (spec §6: "Events
// query with filters (stream_type, stream_id, from_seq, run_id,
// correlation_id)"). Zero-value fields are not applied.
type QueryFilter struct {
	StreamType    string
	StreamID      string
	FromSeq       int64
	RunID         string
	CorrelationID string
	Limit         int
}

// Query returns events matching the given filter, in ascending stream_seq
// order within each stream (cross-stream ordering is never compared —
// spec §9 Open Question). Limit defaults to 200 and caps at 1000.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]chain.Envelope, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	clauses := []string{"stream_seq > $1"}
	args := []any{f.FromSeq}
	add := func(clause, val string) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.StreamType != "" {
		add("stream_type = $%d", f.StreamType)
	}
	if f.StreamID != "" {
		add("stream_id = $%d", f.StreamID)
	}
	if f.RunID != "" {
		add("run_id = $%d", f.RunID)
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT `+eventColumns+` FROM events
		WHERE %s
		ORDER BY stream_seq ASC
		LIMIT $%d`, joinAnd(clauses), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query: %w", err)
	}
	defer rows.Close()

	var out []chain.Envelope
	for rows.Next() {
		env, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("eventstore: scan query row: %w", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: query iteration: %w", err)
	}
	return out, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// ListAllForChainVerify returns every event of a stream in stream_seq
// order as ChainedEvents, the input pkg/chain.Verify walks.
func (s *Store) ListAllForChainVerify(ctx context.Context, streamType, streamID string) ([]chain.ChainedEvent, error) {
	envs, err := s.ListSince(ctx, streamType, streamID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]chain.ChainedEvent, 0, len(envs))
	for _, env := range envs {
		prev := ""
		if env.PrevEventHash != nil {
			prev = *env.PrevEventHash
		}
		out = append(out, chain.ChainedEvent{
			StreamSeq:     env.StreamSeq,
			PrevEventHash: prev,
			EventHash:     env.EventHash,
			Envelope:      env,
		})
	}
	return out, nil
}
