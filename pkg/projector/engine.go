// Package projector implements the exactly-once projection engine of spec
// §4.4: every (projector, event) pair is applied at most once, tracked by
// an applied-events ledger inserted in the same transaction as the
// projection write, so replaying the whole stream from scratch converges
// to the same read-model state.
package projector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
)

// Projector applies one event to its own read-model tables within the
// engine's transaction. Implementations MUST be deterministic functions
// of (prior projection state, event) per spec §4.4's ordering rule.
type Projector interface {
	Name() string
	Apply(ctx context.Context, tx pgx.Tx, env chain.Envelope) error
}

// Engine runs every registered projector over a stream of events in
// sequence order, enforcing exactly-once application per projector.
type Engine struct {
	pool       *pgxpool.Pool
	projectors []Projector
}

func NewEngine(pool *pgxpool.Pool, projectors ...Projector) *Engine {
	return &Engine{pool: pool, projectors: projectors}
}

// ApplyEvent runs every registered projector against a single event. Each
// projector gets its own transaction and its own ledger row, so one
// projector's failure doesn't block the others from making progress, and
// a partial failure can be retried later without re-applying projectors
// that already succeeded for this event.
func (e *Engine) ApplyEvent(ctx context.Context, env chain.Envelope) error {
	for _, p := range e.projectors {
		if err := e.applyOne(ctx, p, env); err != nil {
			return fmt.Errorf("projector %s: %w", p.Name(), err)
		}
	}
	return nil
}

// ApplyEvents runs ApplyEvent over events in the order given — callers
// MUST supply events in per-stream sequence order (spec §4.4 "Ordering").
func (e *Engine) ApplyEvents(ctx context.Context, envs []chain.Envelope) error {
	for _, env := range envs {
		if err := e.ApplyEvent(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyOne(ctx context.Context, p Projector, env chain.Envelope) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO applied_events (projector_name, event_id)
		VALUES ($1, $2)
		ON CONFLICT (projector_name, event_id) DO NOTHING`,
		p.Name(), env.EventID)
	if err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already applied by a prior run — exactly-once, skip silently.
		return nil
	}

	if err := p.Apply(ctx, tx, env); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rebuild clears a projector's applied-events ledger rows (and, via the
// caller-supplied reset func, its projection table) then replays events in
// order — spec §4.4: "A projection table may be truncated and rebuilt by
// clearing its applied rows and replaying in sequence order."
func (e *Engine) Rebuild(ctx context.Context, p Projector, reset func(ctx context.Context) error, envs []chain.Envelope) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM applied_events WHERE projector_name = $1`, p.Name()); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger clear: %w", err)
	}

	if reset != nil {
		if err := reset(ctx); err != nil {
			return fmt.Errorf("reset projection table: %w", err)
		}
	}

	for _, env := range envs {
		if err := e.applyOne(ctx, p, env); err != nil {
			return fmt.Errorf("replay event %s: %w", env.EventID, err)
		}
	}
	return nil
}
