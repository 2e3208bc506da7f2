package config

import (
	"testing"
	"time"

	"github.com/codeready-toolchain/agentkernel/pkg/dbx"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsMissingPassword(t *testing.T) {
	cfg := baseValidConfig()
	cfg.DB.Password = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadEnforcementMode(t *testing.T) {
	cfg := baseValidConfig()
	cfg.EnforcementMode = "bogus"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsHeartbeatExceedingThird(t *testing.T) {
	cfg := baseValidConfig()
	cfg.LeaseDuration = 30 * time.Second
	cfg.HeartbeatMinInterval = 20 * time.Second
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsShortSecretsKey(t *testing.T) {
	cfg := baseValidConfig()
	cfg.SecretsMasterKey = []byte("too-short")
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingJWTKey(t *testing.T) {
	cfg := baseValidConfig()
	cfg.JWTSigningKey = nil
	require.Error(t, cfg.Validate())
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := baseValidConfig()
	require.NoError(t, cfg.Validate())
}

func baseValidConfig() *Config {
	return &Config{
		DB: dbx.Config{
			Password:     "secret",
			MaxOpenConns: 10,
			MinIdleConns: 2,
		},
		EnforcementMode:      ModeEnforce,
		LeaseDuration:        1800 * time.Second,
		HeartbeatMinInterval: 10 * time.Second,
		MaxClaimAge:          900 * time.Second,
		EgressHourlyQuota:    100,
		JWTSigningKey:        []byte("test-signing-key"),
		SecretsMasterKey:     make([]byte, 32),
	}
}
