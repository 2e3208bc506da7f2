package config

import "time"

// QueueConfig contains claim-lease coordinator worker-side tuning
// (spec §4.8), adapted from the teacher's QueueConfig (pkg/config/queue.go)
// which configured its session worker pool the same way.
type QueueConfig struct {
	// WorkerCount is the number of claim-poll goroutines per process.
	WorkerCount int `yaml:"worker_count"`

	// BatchLimit bounds how many runs a single claim call may take at once.
	BatchLimit int `yaml:"batch_limit"`

	// PollInterval is the base interval for checking claimable runs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval, avoiding
	// thundering-herd polling across workers started at the same time.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// SweepInterval is how often the background lease-expiration sweep
	// runs (spec §4.8 "background sweep").
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultQueueConfig returns the built-in claim-lease coordinator defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:        5,
		BatchLimit:         10,
		PollInterval:       1 * time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
		SweepInterval:      30 * time.Second,
	}
}
