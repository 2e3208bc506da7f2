package livetail_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/livetail"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func newTestHub(t *testing.T, bufferSize int) (*livetail.Hub, *eventstore.Store) {
	t.Helper()
	pool, connStr := testutil.NewPoolWithConnString(t)
	principals := security.NewPrincipals(pool.Pool)
	store := eventstore.New(pool.Pool, principals, nil)

	ctx := context.Background()
	hub, err := livetail.NewHub(ctx, connStr, store, bufferSize, nil)
	require.NoError(t, err)
	t.Cleanup(func() { hub.Close(context.Background()) })
	return hub, store
}

func appendRoomEvent(t *testing.T, store *eventstore.Store, roomID, eventType string) chain.Envelope {
	t.Helper()
	env, err := store.Append(context.Background(), eventstore.AppendInput{Envelope: chain.Envelope{
		EventType:    eventType,
		EventVersion: 1,
		WorkspaceID:  "ws-1",
		RoomID:       roomID,
		Actor:        chain.Actor{Kind: chain.ActorAgent, ActorID: "agent-1"},
		Zone:         chain.ZoneSupervised,
		StreamType:   chain.StreamRoom,
		StreamID:     roomID,
		Data:         map[string]any{"n": eventType},
	}})
	require.NoError(t, err)
	return env
}

func TestHub_CatchupThenLiveDelivery(t *testing.T) {
	hub, store := newTestHub(t, 8)
	roomID := "room-catchup"

	appendRoomEvent(t, store, roomID, "message.posted")
	appendRoomEvent(t, store, roomID, "message.posted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan chain.Envelope, 16)
	go func() {
		_, _ = hub.Tail(ctx, roomID, 0, func(env chain.Envelope) error {
			received <- env
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case env := <-received:
			require.Equal(t, int64(i+1), env.StreamSeq)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for catchup event")
		}
	}

	appendRoomEvent(t, store, roomID, "message.posted")
	select {
	case env := <-received:
		require.Equal(t, int64(3), env.StreamSeq)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestHub_ResumeFromCursorSkipsAlreadySeen(t *testing.T) {
	hub, store := newTestHub(t, 8)
	roomID := "room-resume"

	first := appendRoomEvent(t, store, roomID, "message.posted")
	appendRoomEvent(t, store, roomID, "message.posted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []int64
	go func() {
		_, _ = hub.Tail(ctx, roomID, first.StreamSeq, func(env chain.Envelope) error {
			seen = append(seen, env.StreamSeq)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(seen) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(2), seen[0])
}

func TestHub_BackpressureReturnsResumableCursor(t *testing.T) {
	hub, store := newTestHub(t, 1)
	roomID := "room-backpressure"

	first := appendRoomEvent(t, store, roomID, "message.posted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	resultCh := make(chan struct {
		seq int64
		err error
	}, 1)
	go func() {
		seq, err := hub.Tail(ctx, roomID, first.StreamSeq, func(env chain.Envelope) error {
			<-block
			return nil
		})
		resultCh <- struct {
			seq int64
			err error
		}{seq, err}
	}()

	// Flood NOTIFYs while the sink is blocked on the first delivery so
	// the subscriber's wake buffer (capacity 1) overflows.
	for i := 0; i < 5; i++ {
		appendRoomEvent(t, store, roomID, "message.posted")
	}
	time.Sleep(200 * time.Millisecond)
	close(block)

	select {
	case res := <-resultCh:
		require.True(t, errors.Is(res.err, livetail.ErrBackpressure))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for backpressure disconnect")
	}
}
