// Package eventstore implements the append-only event store: the
// sequence allocator (spec §4.2) and the transactional append writer
// (spec §4.3). It is the single point through which every stream
// mutation in the kernel passes.
package eventstore

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

// Store is the event store's write and read surface, backed directly by
// pgxpool — the pattern grounded in other_examples/…evidence-store.go.go's
// Store, generalized from a single flat tool_events table to the spec's
// generic stream/sequence/hash-chain model.
type Store struct {
	pool      *pgxpool.Pool
	principals *security.Principals
	detector  security.SecretDetector
	log       *slog.Logger
}

// New builds a Store. detector may be nil to disable secret scanning
// (tests that don't care about that hook).
func New(pool *pgxpool.Pool, principals *security.Principals, detector security.SecretDetector) *Store {
	return &Store{pool: pool, principals: principals, detector: detector, log: slog.Default()}
}

// StreamChannel is the PostgreSQL NOTIFY channel name for a stream,
// shared between Append's post-commit notify and pkg/livetail's LISTEN
// subscription (spec §4.9).
func StreamChannel(streamType, streamID string) string {
	return streamType + ":" + streamID
}
