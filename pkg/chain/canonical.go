package chain

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize produces the canonical byte representation of an envelope
// per spec §4.1: ascending byte-order map keys, NFC-normalized UTF-8
// strings, shortest round-trippable numeric form. Rather than hand-rolling
// a canonicalizer (a common source of chain-divergence bugs between
// implementations) this delegates to gowebpki/jcs, an RFC 8785 JSON
// Canonicalization Scheme implementation — JCS's guarantees are a superset
// of what §4.1 asks for and give every future implementer of this format a
// spec to point at instead of "whatever this package happens to do".
func Canonicalize(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env.ForHashing())
	if err != nil {
		return nil, fmt.Errorf("chain: marshal envelope: %w", err)
	}
	return CanonicalizeValue(raw)
}

// CanonicalizeValue canonicalizes arbitrary already-JSON-encoded bytes,
// used outside the envelope-hashing path (e.g. scanning an event's `data`
// payload for secret-shaped values with a stable byte representation).
func CanonicalizeValue(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("chain: jcs canonicalize: %w", err)
	}
	return out, nil
}
