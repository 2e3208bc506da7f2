package config

import "time"

// RetentionConfig controls cleanup of transient, non-event-stream state —
// adapted from the teacher's RetentionConfig (pkg/config/retention.go).
// Events themselves are never deleted (append-only, spec §3); this only
// governs the learning sink's best-effort backlog and stale egress_log rows.
type RetentionConfig struct {
	// EgressLogTTL bounds how long hourly egress counters are kept once
	// their window has closed.
	EgressLogTTL time.Duration `yaml:"egress_log_ttl"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		EgressLogTTL:    7 * 24 * time.Hour,
		CleanupInterval: 12 * time.Hour,
	}
}
