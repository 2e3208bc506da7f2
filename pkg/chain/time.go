package chain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// CanonicalTime wraps time.Time so it always marshals per spec §4.1's
// canonicalization rule: "timestamps are ISO-8601 UTC with millisecond
// precision". The stdlib RFC3339Nano format carries variable sub-second
// digits, which would make the hash chain format depend on how much
// precision happened to survive a round trip — unacceptable for a field
// that is hashed.
type CanonicalTime struct {
	time.Time
}

// NewCanonicalTime truncates to millisecond precision and normalizes to UTC.
func NewCanonicalTime(t time.Time) CanonicalTime {
	return CanonicalTime{t.UTC().Round(time.Millisecond)}
}

const canonicalTimeLayout = "2006-01-02T15:04:05.000Z"

func (t CanonicalTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(canonicalTimeLayout) + `"`), nil
}

func (t *CanonicalTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("chain: invalid canonical time literal %q", s)
	}
	parsed, err := time.Parse(canonicalTimeLayout, s[1:len(s)-1])
	if err != nil {
		// Accept full RFC3339Nano for values produced outside this package
		// (e.g. hand-authored fixtures) and normalize on read.
		parsed, err = time.Parse(time.RFC3339Nano, s[1:len(s)-1])
		if err != nil {
			return err
		}
	}
	*t = NewCanonicalTime(parsed)
	return nil
}

// Value implements database/sql/driver.Valuer so a CanonicalTime can be
// passed directly as a pgx query argument for a TIMESTAMPTZ column.
func (t CanonicalTime) Value() (driver.Value, error) {
	return t.Time.UTC(), nil
}

// Scan implements sql.Scanner so a TIMESTAMPTZ column can be read
// directly into a CanonicalTime.
func (t *CanonicalTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = NewCanonicalTime(v)
		return nil
	case nil:
		*t = CanonicalTime{}
		return nil
	default:
		return fmt.Errorf("chain: cannot scan %T into CanonicalTime", src)
	}
}
