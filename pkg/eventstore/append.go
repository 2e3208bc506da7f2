package eventstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/metrics"
)

// AppendInput is an envelope with the fields the writer itself assigns
// left zero (spec §4.3: "an envelope minus stream_seq, prev_event_hash,
// event_hash, and (optionally) actor_principal_id/zone").
type AppendInput struct {
	chain.Envelope
}

// Append runs the six-step transactional append algorithm of spec §4.3:
// resolve principal, allocate sequence, read prev hash, compute hash,
// insert (or return the idempotent-replay row), commit.
func (s *Store) Append(ctx context.Context, in AppendInput) (chain.Envelope, error) {
	env := in.Envelope

	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.Zone == "" {
		env.Zone = chain.ZoneSupervised
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = chain.NewCanonicalTime(time.Now())
	}
	env.StreamSeq = 0
	env.PrevEventHash = nil
	env.EventHash = ""

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return chain.Envelope{}, fmt.Errorf("eventstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if env.ActorPrincipalID == "" && s.principals != nil {
		principalID, err := s.principals.ResolveOrCreate(ctx, env.Actor.Kind, env.Actor.ActorID, env.Actor.ActorID)
		if err != nil {
			return chain.Envelope{}, fmt.Errorf("eventstore: resolve principal: %w", err)
		}
		env.ActorPrincipalID = principalID
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", streamLockID(string(env.StreamType), env.StreamID)); err != nil {
		return chain.Envelope{}, fmt.Errorf("eventstore: advisory lock: %w", err)
	}

	seq, err := allocateSeq(ctx, tx, string(env.StreamType), env.StreamID)
	if err != nil {
		return chain.Envelope{}, err
	}
	env.StreamSeq = seq

	prevHash, err := readPrevHash(ctx, tx, string(env.StreamType), env.StreamID, seq)
	if err != nil {
		return chain.Envelope{}, err
	}
	if prevHash != "" {
		env.PrevEventHash = &prevHash
	}

	if err := s.applySecretPolicy(&env); err != nil {
		return chain.Envelope{}, err
	}

	prevForHash := ""
	if env.PrevEventHash != nil {
		prevForHash = *env.PrevEventHash
	}
	eventHash, err := chain.Hash(env.ForHashing(), prevForHash)
	if err != nil {
		return chain.Envelope{}, fmt.Errorf("eventstore: compute hash: %w", err)
	}
	env.EventHash = eventHash

	if err := insertEvent(ctx, tx, env); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_events_idempotency" {
			existing, getErr := s.getByIdempotencyKeyTx(ctx, tx, string(env.StreamType), env.StreamID, env.IdempotencyKey)
			if getErr != nil {
				return chain.Envelope{}, getErr
			}
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return chain.Envelope{}, fmt.Errorf("eventstore: commit idempotent replay read: %w", commitErr)
			}
			metrics.RecordEventAppended(existing.EventType)
			return *existing, nil
		}
		return chain.Envelope{}, fmt.Errorf("eventstore: insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return chain.Envelope{}, fmt.Errorf("eventstore: commit: %w", err)
	}

	metrics.RecordEventAppended(env.EventType)
	s.notifyStream(ctx, env)
	return env, nil
}

// notifyStream wakes any pkg/livetail subscribers on this stream's NOTIFY
// channel. Best-effort: a failure here never fails the append — a live
// tail subscriber that misses the wakeup still catches up on its next
// periodic poll or reconnect.
func (s *Store) notifyStream(ctx context.Context, env chain.Envelope) {
	channel := StreamChannel(string(env.StreamType), env.StreamID)
	if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, strconv.FormatInt(env.StreamSeq, 10)); err != nil {
		s.log.Warn("eventstore: stream notify failed", "channel", channel, "error", err)
	}
}

// applySecretPolicy runs the configured SecretDetector over the event's
// data payload. Sandbox-zone events are rejected outright when secrets
// are found (nothing from the lowest-trust zone should ever persist
// unredacted); higher zones are marked contains_secrets/redaction_level
// and allowed through, matching spec §4.3's "either marks ... or
// rejects ... when policy forbids persistence" — the sandbox-vs-other
// split is this kernel's resolution of which policy applies, since the
// spec leaves the exact trigger unspecified (see DESIGN.md).
func (s *Store) applySecretPolicy(env *chain.Envelope) error {
	if s.detector == nil || len(env.Data) == 0 {
		return nil
	}
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("eventstore: marshal data for secret scan: %w", err)
	}
	canonData, err := chain.CanonicalizeValue(raw)
	if err != nil {
		return fmt.Errorf("eventstore: canonicalize data for secret scan: %w", err)
	}
	matched := s.detector.Scan(string(canonData))
	if len(matched) == 0 {
		return nil
	}
	if env.Zone == chain.ZoneSandbox {
		return kerrors.Wrap("secret_detected", "secret-shaped value found in sandbox-zone event data", kerrors.ErrSecretDetected).
			WithDetails(map[string]any{"matched_patterns": matched})
	}
	env.ContainsSecrets = true
	if env.RedactionLevel == "" {
		env.RedactionLevel = "flagged"
	}
	return nil
}

func allocateSeq(ctx context.Context, tx pgx.Tx, streamType, streamID string) (int64, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO stream_heads (stream_type, stream_id, next_seq)
		VALUES ($1, $2, 2)
		ON CONFLICT (stream_type, stream_id) DO UPDATE SET next_seq = stream_heads.next_seq + 1
		RETURNING next_seq - 1`,
		streamType, streamID)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, kerrors.Wrap("allocation_failure", "sequence allocator did not return exactly one row", kerrors.ErrAllocationFailure).
			WithDetails(map[string]any{"stream_type": streamType, "stream_id": streamID, "cause": err.Error()})
	}
	return seq, nil
}

func readPrevHash(ctx context.Context, tx pgx.Tx, streamType, streamID string, seq int64) (string, error) {
	if seq <= 1 {
		return "", nil
	}
	row := tx.QueryRow(ctx, `
		SELECT event_hash FROM events
		WHERE stream_type = $1 AND stream_id = $2 AND stream_seq = $3`,
		streamType, streamID, seq-1)

	var hash string
	if err := row.Scan(&hash); err != nil {
		return "", fmt.Errorf("eventstore: read prev hash at seq %d: %w", seq-1, err)
	}
	return hash, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	policyJSON, err := marshalContext(env.Policy)
	if err != nil {
		return err
	}
	modelJSON, err := marshalContext(env.Model)
	if err != nil {
		return err
	}
	displayJSON, err := marshalContext(env.Display)
	if err != nil {
		return err
	}
	dataJSON, err := marshalContext(env.Data)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (
			event_id, event_type, event_version, occurred_at,
			workspace_id, room_id, thread_id, run_id, step_id,
			actor_kind, actor_id, actor_principal_id, zone,
			stream_type, stream_id, stream_seq,
			correlation_id, causation_id,
			redaction_level, contains_secrets,
			policy_context, model_context, display_context, data,
			idempotency_key,
			prev_event_hash, event_hash
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16,
			$17, $18,
			$19, $20,
			$21, $22, $23, $24,
			$25,
			$26, $27
		)`,
		env.EventID, env.EventType, env.EventVersion, env.OccurredAt,
		nullable(env.WorkspaceID), nullable(env.RoomID), nullable(env.ThreadID), nullable(env.RunID), nullable(env.StepID),
		string(env.Actor.Kind), env.Actor.ActorID, nullable(env.ActorPrincipalID), string(env.Zone),
		string(env.StreamType), env.StreamID, env.StreamSeq,
		env.CorrelationID, env.CausationID,
		nullable(env.RedactionLevel), env.ContainsSecrets,
		policyJSON, modelJSON, displayJSON, dataJSON,
		nullable(env.IdempotencyKey),
		env.PrevEventHash, env.EventHash,
	)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// streamLockID produces a deterministic int64 advisory-lock key for a
// (stream_type, stream_id) pair, the same FNV-based scheme the teacher's
// evidence store uses per-tenant (tenantLockID), generalized per-stream.
func streamLockID(streamType, streamID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(streamType))
	h.Write([]byte{0})
	h.Write([]byte(streamID))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}
