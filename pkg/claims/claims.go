// Package claims implements the claim-lease coordinator of spec §4.8: the
// mechanism that lets multiple external worker processes share queued
// runs without a separate coordination service, using Postgres row
// locking (`FOR UPDATE SKIP LOCKED`) for atomic claim and a background
// sweep for stale-lease reclamation — grounded in the teacher's
// pkg/queue/worker.go claim loop and pkg/queue/orphan.go sweep loop.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/metrics"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
)

// Claimed is one successfully claimed run, returned to the caller per
// spec §4.8's "Returns the list of (run_id, claim_token) pairs".
type Claimed struct {
	RunID      string
	ClaimToken string
}

// Config bundles the claim-lease coordinator's tunables (spec §4.8
// "Parameters").
type Config struct {
	LeaseDuration        time.Duration
	HeartbeatMinInterval time.Duration
	MaxClaimAge          time.Duration
	SweepInterval        time.Duration
}

// Coordinator implements Claim/Heartbeat/Release plus a background
// expiration sweep.
type Coordinator struct {
	pool   *pgxpool.Pool
	store  *eventstore.Store
	engine *projector.Engine
	cfg    Config
	log    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCoordinator(pool *pgxpool.Pool, store *eventstore.Store, engine *projector.Engine, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.LeaseDuration / 3
	}
	return &Coordinator{pool: pool, store: store, engine: engine, cfg: cfg, log: log, stopCh: make(chan struct{})}
}

// Claim selects up to batchLimit claimable runs — queued-with-no-claim or
// claimed-with-an-expired-lease — and atomically assigns them to
// actorID, then appends an audit run.claimed event per run (spec §4.8
// "Claim").
func (c *Coordinator) Claim(ctx context.Context, workspaceID, actorID string, batchLimit int) ([]Claimed, error) {
	if batchLimit <= 0 {
		batchLimit = 1
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT run_id, workspace_id
		FROM runs
		WHERE status IN ('queued', 'running')
		  AND (workspace_id = $1 OR $1 = '')
		  AND (claim_token IS NULL OR lease_expires_at < now())
		ORDER BY lease_expires_at ASC NULLS FIRST, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		workspaceID, batchLimit)
	if err != nil {
		return nil, fmt.Errorf("claims: select claimable runs: %w", err)
	}

	type runRow struct {
		runID string
		wsID  string
	}
	var candidates []runRow
	for rows.Next() {
		var r runRow
		if err := rows.Scan(&r.runID, &r.wsID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claims: scan claimable run: %w", err)
		}
		candidates = append(candidates, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claims: iterate claimable runs: %w", err)
	}

	now := time.Now().UTC()
	leaseExpiresAt := now.Add(c.cfg.LeaseDuration)

	claimed := make([]Claimed, 0, len(candidates))
	for _, r := range candidates {
		token := uuid.NewString()
		_, err := tx.Exec(ctx, `
			UPDATE runs
			SET claim_token = $2, claimed_by_actor_id = $3, lease_expires_at = $4,
			    lease_heartbeat_at = $5, claimed_at = $5, updated_at = $5
			WHERE run_id = $1`,
			r.runID, token, actorID, leaseExpiresAt, now)
		if err != nil {
			return nil, fmt.Errorf("claims: claim run %s: %w", r.runID, err)
		}
		claimed = append(claimed, Claimed{RunID: r.runID, ClaimToken: token})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claims: commit claim tx: %w", err)
	}
	metrics.RecordClaimAttempt(len(claimed))

	for _, r := range candidates {
		idx := indexOfRun(claimed, r.runID)
		if idx < 0 {
			continue
		}
		env, err := c.store.Append(ctx, eventstore.AppendInput{Envelope: chain.Envelope{
			EventType:    "run.claimed",
			EventVersion: 1,
			WorkspaceID:  r.wsID,
			RunID:        r.runID,
			Actor:        chain.Actor{Kind: chain.ActorService, ActorID: actorID},
			Zone:         chain.ZoneSupervised,
			StreamType:   chain.StreamWorkspace,
			StreamID:     r.wsID,
			CorrelationID: r.runID,
			Data: map[string]any{
				"claim_token":         claimed[idx].ClaimToken,
				"claimed_by_actor_id": actorID,
				"lease_expires_at":    leaseExpiresAt.Format(time.RFC3339Nano),
			},
		}})
		if err != nil {
			c.log.Error("claims: failed to append run.claimed audit event", "error", err, "run_id", r.runID)
			continue
		}
		if err := c.engine.ApplyEvent(ctx, env); err != nil {
			c.log.Error("claims: failed to project run.claimed", "error", err, "run_id", r.runID)
		}
	}

	return claimed, nil
}

func indexOfRun(claimed []Claimed, runID string) int {
	for i, c := range claimed {
		if c.RunID == runID {
			return i
		}
	}
	return -1
}

// HeartbeatResult reports what Heartbeat did, since a too-frequent call
// is throttled without being an error (spec §4.8 "Heartbeat").
type HeartbeatResult string

const (
	HeartbeatExtended HeartbeatResult = "extended"
	HeartbeatThrottled HeartbeatResult = "throttled"
)

// Heartbeat extends a held lease, iff claimToken matches and the lease
// has not already expired.
func (c *Coordinator) Heartbeat(ctx context.Context, runID, claimToken string) (HeartbeatResult, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("claims: begin heartbeat tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dbToken *string
	var leaseExpiresAt, heartbeatAt *time.Time
	row := tx.QueryRow(ctx, `
		SELECT claim_token, lease_expires_at, lease_heartbeat_at
		FROM runs WHERE run_id = $1 FOR UPDATE`, runID)
	if err := row.Scan(&dbToken, &leaseExpiresAt, &heartbeatAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kerrors.Wrap("lease_lost", fmt.Sprintf("run %s not found", runID), kerrors.ErrLeaseLost)
		}
		return "", fmt.Errorf("claims: lookup run %s: %w", runID, err)
	}

	now := time.Now().UTC()
	if dbToken == nil || *dbToken != claimToken || leaseExpiresAt == nil || leaseExpiresAt.Before(now) {
		metrics.RecordClaimContention()
		return "", kerrors.Wrap("lease_lost", fmt.Sprintf("run %s claim token mismatch or lease expired", runID), kerrors.ErrLeaseLost)
	}

	if heartbeatAt != nil && now.Sub(*heartbeatAt) < c.cfg.HeartbeatMinInterval {
		return HeartbeatThrottled, nil
	}

	newExpiry := now.Add(c.cfg.LeaseDuration)
	_, err = tx.Exec(ctx, `
		UPDATE runs SET lease_expires_at = $2, lease_heartbeat_at = $3 WHERE run_id = $1`,
		runID, newExpiry, now)
	if err != nil {
		return "", fmt.Errorf("claims: extend lease for run %s: %w", runID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("claims: commit heartbeat tx: %w", err)
	}
	return HeartbeatExtended, nil
}

// Release clears a run's claim fields. finalState is one of
// released|completed|failed (spec §4.8 "Release").
func (c *Coordinator) Release(ctx context.Context, runID, claimToken, finalState string) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("claims: begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dbToken *string
	var status string
	row := tx.QueryRow(ctx, `SELECT claim_token, status FROM runs WHERE run_id = $1 FOR UPDATE`, runID)
	if err := row.Scan(&dbToken, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kerrors.Wrap("lease_lost", fmt.Sprintf("run %s not found", runID), kerrors.ErrLeaseLost)
		}
		return fmt.Errorf("claims: lookup run %s: %w", runID, err)
	}
	if dbToken == nil || *dbToken != claimToken {
		metrics.RecordClaimContention()
		return kerrors.Wrap("lease_lost", fmt.Sprintf("run %s claim token mismatch", runID), kerrors.ErrLeaseLost)
	}

	switch finalState {
	case "completed", "failed":
		if status != "succeeded" && status != "failed" {
			return kerrors.New("evidence_required", fmt.Sprintf("run %s has no terminal lifecycle event recorded yet", runID))
		}
		_, err = tx.Exec(ctx, `
			UPDATE runs SET claim_token = NULL, claimed_by_actor_id = NULL,
			    lease_expires_at = NULL, lease_heartbeat_at = NULL, updated_at = now()
			WHERE run_id = $1`, runID)
	case "released":
		_, err = tx.Exec(ctx, `
			UPDATE runs SET claim_token = NULL, claimed_by_actor_id = NULL,
			    lease_expires_at = NULL, lease_heartbeat_at = NULL, status = 'queued', updated_at = now()
			WHERE run_id = $1`, runID)
	default:
		return kerrors.New("invalid_input", fmt.Sprintf("unknown final_state %q", finalState))
	}
	if err != nil {
		return fmt.Errorf("claims: clear claim for run %s: %w", runID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("claims: commit release tx: %w", err)
	}
	metrics.RecordClaimReleased()
	return nil
}

// StartSweep launches the background lease-expiration sweep (spec §4.8
// "Expiration"), mirroring pkg/queue/orphan.go's ticker/stopCh loop.
func (c *Coordinator) StartSweep(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if err := c.sweepExpiredLeases(ctx); err != nil {
					c.log.Error("claims: lease sweep failed", "error", err)
				}
			}
		}
	}()
}

// StopSweep stops the background sweep goroutine.
func (c *Coordinator) StopSweep() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// sweepExpiredLeases reclaims two kinds of stale claim: a lease whose
// lease_expires_at has passed (the heartbeat stopped arriving), and a run
// claimed continuously for longer than max_claim_age even if heartbeats
// kept it alive (spec §4.8 "Expiration" — the crashed-worker-with-a-live-
// socket case max_claim_age exists to bound).
func (c *Coordinator) sweepExpiredLeases(ctx context.Context) error {
	rows, err := c.pool.Query(ctx, `
		SELECT run_id, workspace_id
		FROM runs
		WHERE claim_token IS NOT NULL
		  AND (lease_expires_at < now() OR claimed_at < now() - make_interval(secs => $1))`,
		c.cfg.MaxClaimAge.Seconds())
	if err != nil {
		return fmt.Errorf("select expired leases: %w", err)
	}
	type expired struct{ runID, wsID string }
	var list []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.runID, &e.wsID); err != nil {
			rows.Close()
			return fmt.Errorf("scan expired lease: %w", err)
		}
		list = append(list, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range list {
		env, err := c.store.Append(ctx, eventstore.AppendInput{Envelope: chain.Envelope{
			EventType:    "run.lease_expired",
			EventVersion: 1,
			WorkspaceID:  e.wsID,
			RunID:        e.runID,
			Actor:        chain.Actor{Kind: chain.ActorService, ActorID: "claim-lease-sweep"},
			Zone:         chain.ZoneSupervised,
			StreamType:   chain.StreamWorkspace,
			StreamID:     e.wsID,
			CorrelationID: e.runID,
			Data:         map[string]any{},
		}})
		if err != nil {
			c.log.Error("claims: failed to append run.lease_expired", "error", err, "run_id", e.runID)
			continue
		}
		if err := c.engine.ApplyEvent(ctx, env); err != nil {
			c.log.Error("claims: failed to project run.lease_expired", "error", err, "run_id", e.runID)
		}
		metrics.RecordLeaseExpired()
	}
	return nil
}
