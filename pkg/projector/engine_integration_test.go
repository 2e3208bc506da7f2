package projector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
)

func roomCreatedEvent(roomID, workspaceID string) chain.Envelope {
	return chain.Envelope{
		EventID:      "ev-" + roomID,
		EventType:    "room.created",
		EventVersion: 1,
		OccurredAt:   chain.NewCanonicalTime(time.Now()),
		RoomID:       roomID,
		WorkspaceID:  workspaceID,
		Actor:        chain.Actor{Kind: chain.ActorUser, ActorID: "u1"},
		Zone:         chain.ZoneSupervised,
		StreamType:   chain.StreamRoom,
		StreamID:     roomID,
		StreamSeq:    1,
		CorrelationID: "corr-1",
		Data:         map[string]any{"title": "Incident room"},
	}
}

func TestRoomsProjector_ExactlyOnceOnReplay(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()
	engine := projector.NewEngine(pool.Pool, projector.RoomsProjector{})

	ev := roomCreatedEvent("room-1", "ws-1")
	require.NoError(t, engine.ApplyEvent(ctx, ev))
	require.NoError(t, engine.ApplyEvent(ctx, ev)) // replay, must be a no-op

	var count int
	row := pool.QueryRow(ctx, `SELECT count(*) FROM rooms WHERE room_id = $1`, "room-1")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestApprovalsProjector_RejectsDoubleDecision(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()
	engine := projector.NewEngine(pool.Pool, projector.ApprovalsProjector{})

	requested := chain.Envelope{
		EventID: "ev-req-1", EventType: "approval.requested", EventVersion: 1,
		OccurredAt: chain.NewCanonicalTime(time.Now()), WorkspaceID: "ws-1",
		Actor: chain.Actor{Kind: chain.ActorUser, ActorID: "u1"}, Zone: chain.ZoneSupervised,
		StreamType: chain.StreamWorkspace, StreamID: "ws-1", StreamSeq: 1,
		CorrelationID: "corr-1",
		Data: map[string]any{
			"approval_id": "appr-1", "action": "external.write", "scope_type": "workspace",
			"requester_id": "u1",
		},
	}
	require.NoError(t, engine.ApplyEvent(ctx, requested))

	decide := func(eventID, outcome string, seq int64) error {
		return engine.ApplyEvent(ctx, chain.Envelope{
			EventID: eventID, EventType: "approval.decided", EventVersion: 1,
			OccurredAt: chain.NewCanonicalTime(time.Now()), WorkspaceID: "ws-1",
			Actor: chain.Actor{Kind: chain.ActorUser, ActorID: "u2"}, Zone: chain.ZoneSupervised,
			StreamType: chain.StreamWorkspace, StreamID: "ws-1", StreamSeq: seq,
			CorrelationID: "corr-1",
			Data: map[string]any{"approval_id": "appr-1", "outcome": outcome, "decider_id": "u2"},
		})
	}

	require.NoError(t, decide("ev-dec-1", "approved", 2))

	err := decide("ev-dec-2", "denied", 3)
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("already_decided"), ke.ReasonCode)
}

func TestRunsProjector_RejectsTerminalWithoutEvidence(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()
	engine := projector.NewEngine(pool.Pool, projector.RunsProjector{})

	created := chain.Envelope{
		EventID: "ev-run-1", EventType: "run.created", EventVersion: 1,
		OccurredAt: chain.NewCanonicalTime(time.Now()), WorkspaceID: "ws-1", RunID: "run-1",
		Actor: chain.Actor{Kind: chain.ActorAgent, ActorID: "a1"}, Zone: chain.ZoneSupervised,
		StreamType: chain.StreamWorkspace, StreamID: "ws-1", StreamSeq: 1,
		CorrelationID: "corr-1", Data: map[string]any{"goal": "investigate"},
	}
	require.NoError(t, engine.ApplyEvent(ctx, created))

	// A valid, unexpired claim for "a1" so the evidence check — not the
	// claim-ownership check — is what TestRunsProjector_RejectsTerminalWithoutEvidence
	// exercises.
	_, err := pool.Pool.Exec(ctx, `
		UPDATE runs SET claim_token = 'tok-1', claimed_by_actor_id = 'a1',
		    lease_expires_at = $2, claimed_at = now()
		WHERE run_id = $1`, "run-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	completed := chain.Envelope{
		EventID: "ev-run-2", EventType: "run.completed", EventVersion: 1,
		OccurredAt: chain.NewCanonicalTime(time.Now()), WorkspaceID: "ws-1", RunID: "run-1",
		Actor: chain.Actor{Kind: chain.ActorAgent, ActorID: "a1"}, Zone: chain.ZoneSupervised,
		StreamType: chain.StreamWorkspace, StreamID: "ws-1", StreamSeq: 2,
		CorrelationID: "corr-1", Data: map[string]any{"claim_token": "tok-1"},
	}
	err = engine.ApplyEvent(ctx, completed)
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("evidence_required"), ke.ReasonCode)
}

func TestRunsProjector_RejectsCompleteWithoutValidClaim(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()
	engine := projector.NewEngine(pool.Pool, projector.RunsProjector{})

	created := chain.Envelope{
		EventID: "ev-run-3", EventType: "run.created", EventVersion: 1,
		OccurredAt: chain.NewCanonicalTime(time.Now()), WorkspaceID: "ws-1", RunID: "run-2",
		Actor: chain.Actor{Kind: chain.ActorAgent, ActorID: "a1"}, Zone: chain.ZoneSupervised,
		StreamType: chain.StreamWorkspace, StreamID: "ws-1", StreamSeq: 1,
		CorrelationID: "corr-2", Data: map[string]any{"goal": "investigate"},
	}
	require.NoError(t, engine.ApplyEvent(ctx, created))

	completed := chain.Envelope{
		EventID: "ev-run-4", EventType: "run.completed", EventVersion: 1,
		OccurredAt: chain.NewCanonicalTime(time.Now()), WorkspaceID: "ws-1", RunID: "run-2",
		Actor: chain.Actor{Kind: chain.ActorAgent, ActorID: "a1"}, Zone: chain.ZoneSupervised,
		StreamType: chain.StreamWorkspace, StreamID: "ws-1", StreamSeq: 2,
		CorrelationID: "corr-2", Data: map[string]any{"evidence_ref": "s3://evidence.json", "claim_token": "never-claimed"},
	}
	err := engine.ApplyEvent(ctx, completed)
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("lease_lost"), ke.ReasonCode)
}
