// Package learning implements the policy gate's best-effort
// learning-from-failure sink (spec §4.5/§9): negative decisions are
// queued and persisted off the gate's hot path, so a slow or failing
// write never blocks or aborts a policy evaluation.
package learning

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one negative-decision record, decoupled from pkg/policy's
// Request/Decision types so this package has no import-cycle back to it;
// callers adapt their own request/decision shapes at the call site.
type Entry struct {
	Action      string
	WorkspaceID string
	RoomID      string
	RunID       string
	PrincipalID string
	Effect      string
	ReasonCode  string
	Reason      string
	Context     map[string]any
}

// BoundedSink buffers entries on a fixed-size channel and drains them
// with a single background worker, mirroring pkg/queue/worker.go's
// stopCh/sync.Once/WaitGroup shutdown idiom. When the buffer is full,
// RecordNegativeDecision drops the entry rather than blocking the
// caller — losing an occasional learning record is acceptable; blocking
// the policy gate is not.
type BoundedSink struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	entries  chan Entry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewBoundedSink(pool *pgxpool.Pool, bufferSize int, log *slog.Logger) *BoundedSink {
	if log == nil {
		log = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &BoundedSink{
		pool:    pool,
		log:     log,
		entries: make(chan Entry, bufferSize),
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// RecordNegativeDecision enqueues an entry for persistence. It never
// returns an error that should abort the caller's gate evaluation; a
// full buffer is logged and the entry is dropped.
func (s *BoundedSink) RecordNegativeDecision(ctx context.Context, e Entry) error {
	select {
	case s.entries <- e:
		return nil
	default:
		s.log.Warn("learning sink buffer full, dropping entry", "action", e.Action)
		return nil
	}
}

func (s *BoundedSink) drain() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.entries:
			s.persist(e)
		case <-s.stopCh:
			// Drain whatever remains without blocking indefinitely.
			for {
				select {
				case e := <-s.entries:
					s.persist(e)
				default:
					return
				}
			}
		}
	}
}

func (s *BoundedSink) persist(e Entry) {
	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		ctxJSON = nil
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO policy_learning_entries
			(action, workspace_id, room_id, run_id, principal_id, effect, reason_code, reason, context)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.Action, e.WorkspaceID, e.RoomID, e.RunID, e.PrincipalID, e.Effect, e.ReasonCode, e.Reason, ctxJSON)
	if err != nil {
		s.log.Warn("learning sink: failed to persist entry", "error", err, "action", e.Action)
	}
}

// Close stops the background drain goroutine after flushing any
// buffered entries.
func (s *BoundedSink) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
