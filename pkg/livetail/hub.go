package livetail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
)

// ErrBackpressure is returned by Tail when a subscriber falls far enough
// behind that its wake buffer overflows. The caller receives the last
// sequence it successfully delivered and should tell the client to
// reconnect with that value as the new from_seq cursor.
var ErrBackpressure = errors.New("livetail: subscriber buffer overflowed, reconnect from last sequence")

// pollInterval is the safety-net re-check period: it bounds how long a
// subscriber can go without noticing a missed NOTIFY across a listener
// reconnect window.
const pollInterval = 5 * time.Second

// Hub owns the dedicated LISTEN connection and the in-process fanout of
// wakeups to active Tail calls.
type Hub struct {
	store     *eventstore.Store
	listener  *notifyListener
	broadcast *broadcaster
	log       *slog.Logger
}

// NewHub opens a dedicated Postgres connection for LISTEN and starts its
// receive loop. connString must point at the same database store reads
// from. Call Close when the kernel shuts down.
func NewHub(ctx context.Context, connString string, store *eventstore.Store, bufferSize int, log *slog.Logger) (*Hub, error) {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{store: store, broadcast: newBroadcaster(bufferSize), log: log}
	h.listener = newNotifyListener(connString, h.broadcast.publish, log)
	if err := h.listener.Start(ctx); err != nil {
		return nil, fmt.Errorf("livetail: start hub: %w", err)
	}
	return h, nil
}

// Close stops the dedicated LISTEN connection.
func (h *Hub) Close(ctx context.Context) {
	h.listener.Stop(ctx)
}

// Tail streams every room-stream event with stream_seq > fromSeq to sink
// in ascending order, then continues emitting newly appended events as
// they arrive, until ctx is cancelled, sink returns an error, or the
// subscriber falls behind (ErrBackpressure). It always returns the last
// stream_seq successfully handed to sink, even on error, so the caller
// can resume.
func (h *Hub) Tail(ctx context.Context, roomID string, fromSeq int64, sink func(chain.Envelope) error) (int64, error) {
	channel := eventstore.StreamChannel(string(chain.StreamRoom), roomID)

	id, wake, first := h.broadcast.subscribe(channel)
	defer func() {
		if last := h.broadcast.unsubscribe(channel, id); last {
			unlistenCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.listener.Unsubscribe(unlistenCtx, channel); err != nil {
				h.log.Error("livetail: UNLISTEN failed", "channel", channel, "error", err)
			}
		}
	}()

	if first {
		if err := h.listener.Subscribe(ctx, channel); err != nil {
			return fromSeq, fmt.Errorf("livetail: subscribe to %s: %w", channel, err)
		}
	}

	lastSeq := fromSeq
	drain := func() error {
		envs, err := h.store.ListSince(ctx, string(chain.StreamRoom), roomID, lastSeq)
		if err != nil {
			return fmt.Errorf("livetail: catchup list since %d: %w", lastSeq, err)
		}
		for _, env := range envs {
			if err := sink(env); err != nil {
				return err
			}
			lastSeq = env.StreamSeq
		}
		return nil
	}

	// Subscribing before the first drain closes the gap between catchup
	// and live delivery: any event appended during or after this drain
	// triggers a wakeup this Tail call is already listening for.
	if err := drain(); err != nil {
		return lastSeq, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return lastSeq, ctx.Err()
		case <-ticker.C:
			if err := drain(); err != nil {
				return lastSeq, err
			}
		case _, ok := <-wake:
			if !ok {
				return lastSeq, ErrBackpressure
			}
			if err := drain(); err != nil {
				return lastSeq, err
			}
		}
	}
}
