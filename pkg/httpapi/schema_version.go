package httpapi

import (
	"fmt"
	"strconv"
	"strings"
)

// CurrentSchemaVersion is the HTTP surface's wire contract version (spec
// §6): "current 2.1, server accepts current and previous minor".
const CurrentSchemaVersion = "2.1"

// acceptSchemaVersion reports whether v is the current schema version or
// its immediate previous minor, within the same major version. The
// version field is always exactly MAJOR.MINOR, so a manual two-field
// comparison covers it without a semver library.
func acceptSchemaVersion(v string) bool {
	if v == "" {
		return true // absent defaults to current
	}
	major, minor, err := parseMajorMinor(v)
	if err != nil {
		return false
	}
	curMajor, curMinor, _ := parseMajorMinor(CurrentSchemaVersion)
	if major != curMajor {
		return false
	}
	return minor == curMinor || minor == curMinor-1
}

func parseMajorMinor(v string) (int, int, error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("httpapi: malformed schema_version %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("httpapi: malformed schema_version %q: %w", v, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("httpapi: malformed schema_version %q: %w", v, err)
	}
	return major, minor, nil
}
