package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleEnvelope() Envelope {
	return Envelope{
		EventID:          "evt_1",
		EventType:        "run.created",
		EventVersion:     1,
		OccurredAt:       NewCanonicalTime(time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.UTC)),
		WorkspaceID:      "ws_1",
		RoomID:           "room_1",
		Actor:            Actor{Kind: ActorAgent, ActorID: "agent_1"},
		ActorPrincipalID: "principal_1",
		Zone:             ZoneSupervised,
		StreamType:       StreamRoom,
		StreamID:         "room_1",
		StreamSeq:        1,
		CorrelationID:    "corr_1",
		CausationID:      nil,
		ContainsSecrets:  false,
		Data:             map[string]any{"goal": "investigate latency spike"},
		PrevEventHash:    nil,
	}
}

func TestHashDeterministic(t *testing.T) {
	env := sampleEnvelope()
	h1, err := Hash(env, "")
	require.NoError(t, err)
	h2, err := Hash(env, "")
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestHashChangesWithPrevHash(t *testing.T) {
	env := sampleEnvelope()
	h1, err := Hash(env, "")
	require.NoError(t, err)
	h2, err := Hash(env, "deadbeef")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestHashChangesWithPayload(t *testing.T) {
	env := sampleEnvelope()
	h1, err := Hash(env, "")
	require.NoError(t, err)
	env.Data["goal"] = "different goal"
	h2, err := Hash(env, "")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestVerifyDetectsTamper(t *testing.T) {
	env1 := sampleEnvelope()
	hash1, err := Hash(env1, "")
	require.NoError(t, err)
	env1.EventHash = hash1

	env2 := sampleEnvelope()
	env2.EventID = "evt_2"
	env2.StreamSeq = 2
	prev := hash1
	env2.PrevEventHash = &prev
	hash2, err := Hash(env2, hash1)
	require.NoError(t, err)
	env2.EventHash = hash2

	events := []ChainedEvent{
		{StreamSeq: 1, PrevEventHash: "", EventHash: hash1, Envelope: env1},
		{StreamSeq: 2, PrevEventHash: hash1, EventHash: hash2, Envelope: env2},
	}
	require.NoError(t, Verify(events))

	// Tamper with the first event's data without recomputing its hash.
	events[0].Envelope.Data["goal"] = "tampered"
	err = Verify(events)
	require.Error(t, err)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, int64(1), mismatch.StreamSeq)
}

func TestVerifyDetectsBrokenLinkage(t *testing.T) {
	env1 := sampleEnvelope()
	hash1, err := Hash(env1, "")
	require.NoError(t, err)
	env1.EventHash = hash1

	env2 := sampleEnvelope()
	env2.EventID = "evt_2"
	env2.StreamSeq = 2
	wrongPrev := "not-the-real-prev-hash"
	env2.PrevEventHash = &wrongPrev

	events := []ChainedEvent{
		{StreamSeq: 1, PrevEventHash: "", EventHash: hash1, Envelope: env1},
		{StreamSeq: 2, PrevEventHash: wrongPrev, EventHash: "irrelevant", Envelope: env2},
	}
	err = Verify(events)
	require.Error(t, err)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, int64(2), mismatch.StreamSeq)
}
