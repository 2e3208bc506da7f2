// Package config builds the kernel's single validated configuration
// object. Following spec §9's design note ("process-wide config → explicit
// configuration object"), Config is constructed once at startup from
// environment variables and passed by construction to every component —
// never read globally — so tests can run many kernels in one process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/codeready-toolchain/agentkernel/pkg/dbx"
)

// EnforcementMode is the process-wide policy-gate mode (spec §4.5).
type EnforcementMode string

const (
	ModeEnforce EnforcementMode = "enforce"
	ModeShadow  EnforcementMode = "shadow"
)

// Config is the kernel's top-level, validated configuration object.
type Config struct {
	HTTPAddr string

	DB dbx.Config

	// RedisAddr is optional; when empty the egress quota layer falls back
	// to the DB-backed egress_log table (spec §4.5's "(NEW) wiring").
	RedisAddr string

	// JWTSigningKey HMAC-signs capability tokens (§4.5).
	JWTSigningKey []byte

	// SecretsMasterKey is the AES-256 key used for secrets envelope
	// encryption (§6). Exactly 32 bytes.
	SecretsMasterKey []byte

	// KillSwitchActive forces deny for all external.write requests
	// (§4.5 base policy layer) regardless of any approval.
	KillSwitchActive bool

	// EnforcementMode is "enforce" or "shadow" (§4.5).
	EnforcementMode EnforcementMode

	// LeaseDuration, HeartbeatMinInterval, MaxClaimAge configure the
	// claim-lease coordinator (§4.8 parameters).
	LeaseDuration        time.Duration
	HeartbeatMinInterval time.Duration
	MaxClaimAge          time.Duration

	// EgressHourlyQuota bounds outbound actions per principal per hour
	// (§4.5 layer 4).
	EgressHourlyQuota int

	Queue     QueueConfig
	Retention RetentionConfig
}

// Load builds and validates a Config from environment variables, following
// the teacher's pkg/database's LoadConfigFromEnv / getEnvOrDefault idiom
// (pkg/database/config.go) generalized across the whole process instead of
// just the DB subsystem. Callers typically call godotenv.Load() first (see
// cmd/kernel/main.go), matching cmd/tarsy/main.go's startup sequence.
func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid DB_PORT: %w", err)
	}
	maxOpen, err := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	minIdle, err := strconv.Atoi(getEnvOrDefault("DB_MIN_IDLE_CONNS", "2"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid DB_MIN_IDLE_CONNS: %w", err)
	}
	connLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	connIdle, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	leaseDuration, err := time.ParseDuration(getEnvOrDefault("KERNEL_LEASE_DURATION", "1800s"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid KERNEL_LEASE_DURATION: %w", err)
	}
	heartbeatMin, err := time.ParseDuration(getEnvOrDefault("KERNEL_HEARTBEAT_MIN_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid KERNEL_HEARTBEAT_MIN_INTERVAL: %w", err)
	}
	maxClaimAge, err := time.ParseDuration(getEnvOrDefault("KERNEL_MAX_CLAIM_AGE", "900s"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid KERNEL_MAX_CLAIM_AGE: %w", err)
	}
	egressQuota, err := strconv.Atoi(getEnvOrDefault("KERNEL_EGRESS_HOURLY_QUOTA", "100"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid KERNEL_EGRESS_HOURLY_QUOTA: %w", err)
	}

	mode := EnforcementMode(getEnvOrDefault("KERNEL_ENFORCEMENT_MODE", string(ModeEnforce)))

	cfg := &Config{
		HTTPAddr: getEnvOrDefault("KERNEL_HTTP_ADDR", ":8080"),
		DB: dbx.Config{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnvOrDefault("DB_USER", "agentkernel"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnvOrDefault("DB_NAME", "agentkernel"),
			SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    int32(maxOpen),
			MinIdleConns:    int32(minIdle),
			ConnMaxLifetime: connLifetime,
			ConnMaxIdleTime: connIdle,
		},
		RedisAddr:            os.Getenv("KERNEL_REDIS_ADDR"),
		JWTSigningKey:        []byte(os.Getenv("KERNEL_JWT_SIGNING_KEY")),
		SecretsMasterKey:     []byte(os.Getenv("KERNEL_SECRETS_MASTER_KEY")),
		KillSwitchActive:     getEnvOrDefault("KERNEL_KILL_SWITCH", "false") == "true",
		EnforcementMode:      mode,
		LeaseDuration:        leaseDuration,
		HeartbeatMinInterval: heartbeatMin,
		MaxClaimAge:          maxClaimAge,
		EgressHourlyQuota:    egressQuota,
		Queue:                DefaultQueueConfig(),
		Retention:            DefaultRetentionConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that must hold before the kernel starts
// (spec §6: "Each has a documented default and must be validated at
// startup").
func (c *Config) Validate() error {
	if c.DB.Password == "" {
		return fmt.Errorf("config: DB_PASSWORD is required")
	}
	if c.DB.MinIdleConns > c.DB.MaxOpenConns {
		return fmt.Errorf("config: DB_MIN_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.DB.MinIdleConns, c.DB.MaxOpenConns)
	}
	if c.DB.MaxOpenConns < 1 {
		return fmt.Errorf("config: DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.EnforcementMode != ModeEnforce && c.EnforcementMode != ModeShadow {
		return fmt.Errorf("config: KERNEL_ENFORCEMENT_MODE must be 'enforce' or 'shadow', got %q", c.EnforcementMode)
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("config: KERNEL_LEASE_DURATION must be positive")
	}
	if c.HeartbeatMinInterval <= 0 || c.HeartbeatMinInterval > c.LeaseDuration/3 {
		return fmt.Errorf("config: KERNEL_HEARTBEAT_MIN_INTERVAL must be positive and at most lease_duration/3")
	}
	if c.MaxClaimAge <= 0 {
		return fmt.Errorf("config: KERNEL_MAX_CLAIM_AGE must be positive")
	}
	if c.EgressHourlyQuota < 0 {
		return fmt.Errorf("config: KERNEL_EGRESS_HOURLY_QUOTA cannot be negative")
	}
	if len(c.JWTSigningKey) == 0 {
		return fmt.Errorf("config: KERNEL_JWT_SIGNING_KEY is required")
	}
	if len(c.SecretsMasterKey) != 32 {
		return fmt.Errorf("config: KERNEL_SECRETS_MASTER_KEY must be exactly 32 bytes, got %d", len(c.SecretsMasterKey))
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
