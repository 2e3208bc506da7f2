package httpapi

import (
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
)

// actorDTO is the wire shape of chain.Actor carried in request bodies.
type actorDTO struct {
	Kind    string `json:"kind" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
}

func (a actorDTO) toActor() chain.Actor {
	return chain.Actor{Kind: chain.ActorKind(a.Kind), ActorID: a.ActorID}
}

// envelopeDTO is the wire shape of chain.Envelope for events query and
// live-tail responses: a flattened, JSON-friendly projection of the
// canonical envelope.
type envelopeDTO struct {
	SchemaVersion string         `json:"schema_version"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	EventVersion  int            `json:"event_version"`
	OccurredAt    chain.CanonicalTime `json:"occurred_at"`
	WorkspaceID   string         `json:"workspace_id,omitempty"`
	RoomID        string         `json:"room_id,omitempty"`
	ThreadID      string         `json:"thread_id,omitempty"`
	RunID         string         `json:"run_id,omitempty"`
	StepID        string         `json:"step_id,omitempty"`
	Actor         actorDTO       `json:"actor"`
	Zone          string         `json:"zone"`
	StreamType    string         `json:"stream_type"`
	StreamID      string         `json:"stream_id"`
	StreamSeq     int64          `json:"stream_seq"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

func toEnvelopeDTO(env chain.Envelope) envelopeDTO {
	return envelopeDTO{
		SchemaVersion: CurrentSchemaVersion,
		EventID:       env.EventID,
		EventType:     env.EventType,
		EventVersion:  env.EventVersion,
		OccurredAt:    env.OccurredAt,
		WorkspaceID:   env.WorkspaceID,
		RoomID:        env.RoomID,
		ThreadID:      env.ThreadID,
		RunID:         env.RunID,
		StepID:        env.StepID,
		Actor:         actorDTO{Kind: string(env.Actor.Kind), ActorID: env.Actor.ActorID},
		Zone:          string(env.Zone),
		StreamType:    string(env.StreamType),
		StreamID:      env.StreamID,
		StreamSeq:     env.StreamSeq,
		CorrelationID: env.CorrelationID,
		Data:          env.Data,
	}
}
