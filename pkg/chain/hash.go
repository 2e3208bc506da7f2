package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ErrHashMismatch is returned by Verify when a stored event_hash does not
// match the value recomputed from the canonical envelope and the previous
// hash — spec §4.1 "a single mismatch marks the stream invalid at that
// position".
type MismatchError struct {
	StreamSeq int64
	Want      string
	Got       string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("chain: event_hash mismatch at stream_seq %d: computed %s, stored %s", e.StreamSeq, e.Want, e.Got)
}

// Hash computes event_hash = SHA256(canonical(envelope) || prev_event_hash)
// per spec §4.1. prevHash is the empty string for stream_seq == 1.
func Hash(env Envelope, prevHash string) (string, error) {
	canon, err := Canonicalize(env)
	if err != nil {
		return "", err
	}
	return HashBytes(canon, prevHash), nil
}

// HashBytes computes the digest directly from already-canonicalized bytes,
// exposed so the event store writer can compute the hash once during
// append and pkg/chain's Verify can recompute it independently from stored
// rows without re-marshaling through the Envelope type.
func HashBytes(canonPayload []byte, prevHash string) string {
	h := sha256.New()
	h.Write(canonPayload)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// ChainedEvent is the minimal projection of a stored event needed to verify
// one link of the chain.
type ChainedEvent struct {
	StreamSeq     int64
	PrevEventHash string
	EventHash     string
	Envelope      Envelope
}

// Verify walks events in ascending stream_seq order (the caller is
// responsible for supplying them in that order — typically a single
// stream's rows ordered by stream_seq) and recomputes each event_hash,
// returning a *MismatchError at the first divergence.
func Verify(events []ChainedEvent) error {
	prev := ""
	for _, ev := range events {
		if ev.PrevEventHash != prev {
			return &MismatchError{StreamSeq: ev.StreamSeq, Want: prev, Got: ev.PrevEventHash}
		}
		want, err := Hash(ev.Envelope, prev)
		if err != nil {
			return err
		}
		if want != ev.EventHash {
			return &MismatchError{StreamSeq: ev.StreamSeq, Want: want, Got: ev.EventHash}
		}
		prev = ev.EventHash
	}
	return nil
}
