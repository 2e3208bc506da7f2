// Package chain implements canonical event serialization and the
// tamper-evident hash chain described by spec §4.1: every event's hash is a
// function of its own canonical bytes and the previous event's hash in the
// same stream, so altering any row breaks verification from that point on.
package chain

import "time"

// ActorKind identifies who originated an event.
type ActorKind string

const (
	ActorUser    ActorKind = "user"
	ActorAgent   ActorKind = "agent"
	ActorService ActorKind = "service"
)

// Zone is the security posture label controlling which actions are
// permitted (spec GLOSSARY).
type Zone string

const (
	ZoneSandbox     Zone = "sandbox"
	ZoneSupervised  Zone = "supervised"
	ZoneHighStakes  Zone = "high_stakes"
)

// StreamType identifies which kind of stream an event's sequence is scoped
// to (spec §3: stream_type ∈ {workspace, room, thread}).
type StreamType string

const (
	StreamWorkspace StreamType = "workspace"
	StreamRoom      StreamType = "room"
	StreamThread    StreamType = "thread"
)

// Actor identifies the originator of an event.
type Actor struct {
	Kind    ActorKind `json:"kind"`
	ActorID string    `json:"actor_id"`
}

// Envelope is the immutable event record described by spec §3. It is the
// unit canonicalized and hashed by this package, and the unit persisted by
// pkg/eventstore.
//
// Fields mirror spec.md §3 exactly; json tags additionally drive
// canonicalization via gowebpki/jcs, so renaming a field here changes the
// wire AND chain format — do not rename without a stream_version bump.
type Envelope struct {
	EventID      string       `json:"event_id"`
	EventType    string       `json:"event_type"`
	EventVersion int          `json:"event_version"`
	OccurredAt   CanonicalTime `json:"occurred_at"`

	WorkspaceID string `json:"workspace_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`

	Actor            Actor  `json:"actor"`
	ActorPrincipalID string `json:"actor_principal_id,omitempty"`
	Zone             Zone   `json:"zone"`

	StreamType StreamType `json:"stream_type"`
	StreamID   string     `json:"stream_id"`
	StreamSeq  int64      `json:"stream_seq"`

	CorrelationID string  `json:"correlation_id"`
	CausationID   *string `json:"causation_id"`

	RedactionLevel  string `json:"redaction_level,omitempty"`
	ContainsSecrets bool   `json:"contains_secrets"`

	Policy  map[string]any `json:"policy,omitempty"`
	Model   map[string]any `json:"model,omitempty"`
	Display map[string]any `json:"display,omitempty"`

	Data map[string]any `json:"data"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`

	PrevEventHash *string `json:"prev_event_hash"`
	EventHash     string  `json:"event_hash,omitempty"`
}

// ForHashing returns a copy of the envelope with the chain fields that are
// themselves outputs of hashing (EventHash) stripped, and PrevEventHash
// carried through as an explicit nullable field per the canonicalization
// rules (absent optional fields omitted; nullable fields kept as null).
func (e Envelope) ForHashing() Envelope {
	cp := e
	cp.EventHash = ""
	return cp
}
