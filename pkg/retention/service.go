// Package retention periodically sweeps transient, non-event-stream state.
// Events themselves are append-only and never deleted (spec §3); this
// service only reaps expired egress quota counters once their hourly
// window has closed far enough in the past to be useless to
// pkg/security's EgressLimiter. Adapted from the teacher's pkg/cleanup
// Service (ticker-driven runAll loop with cancel/done shutdown), narrowed
// from its session/event soft-delete sweep to this kernel's single
// egress_log table.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/agentkernel/pkg/config"
)

// Service runs the retention sweep on a ticker until Stop is called.
type Service struct {
	pool   *pgxpool.Pool
	config config.RetentionConfig
	log    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(pool *pgxpool.Pool, cfg config.RetentionConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, config: cfg, log: log}
}

// Start launches the background sweep loop. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.log.Info("retention: started", "egress_log_ttl", s.config.EgressLogTTL, "interval", s.config.CleanupInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("retention: stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.EgressLogTTL)
	tag, err := s.pool.Exec(ctx, `DELETE FROM egress_log WHERE window_start < $1`, cutoff)
	if err != nil {
		s.log.Error("retention: egress_log sweep failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		s.log.Info("retention: swept expired egress_log rows", "count", n)
	}
}
