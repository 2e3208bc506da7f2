package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/config"
	"github.com/codeready-toolchain/agentkernel/pkg/dbx"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/policy"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func newTestGate(t *testing.T, killSwitch bool, mode config.EnforcementMode) (*policy.Gate, *dbx.Pool) {
	t.Helper()
	pool := testutil.NewPool(t)

	principals := security.NewPrincipals(pool.Pool)
	issuer, err := security.NewCapabilityIssuer([]byte("test-signing-key-0123456789"), pool.Pool)
	require.NoError(t, err)
	egressLimiter := security.NewEgressLimiter(nil, pool.Pool, 5)
	base := policy.NewBasePolicy(pool.Pool, killSwitch)
	store := eventstore.New(pool.Pool, principals, nil)
	registry, err := policy.NewRegistry()
	require.NoError(t, err)

	gate := policy.NewGate(registry, principals, issuer, egressLimiter, base, store, nil, mode, nil)
	return gate, pool
}

func TestGate_ExternalWriteHappyPath(t *testing.T) {
	gate, pool := newTestGate(t, false, config.ModeEnforce)
	ctx := context.Background()

	req := policy.Request{
		Action:           "external.write",
		WorkspaceID:      "ws-1",
		ActorPrincipalID: "principal-1",
	}

	dec, err := gate.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, policy.RequireApproval, dec.Effect)
	require.Equal(t, "external_write_requires_approval", dec.ReasonCode)
	require.True(t, dec.Blocked)

	_, err = pool.Exec(ctx, `
		INSERT INTO approvals (approval_id, workspace_id, action, scope_type, requester_id, status, created_at, updated_at)
		VALUES ('appr-1', 'ws-1', 'external.write', 'workspace', 'u1', 'approved', now(), now())`)
	require.NoError(t, err)

	dec, err = gate.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, policy.Allow, dec.Effect)
	require.Equal(t, "approval_allows_action", dec.ReasonCode)
	require.False(t, dec.Blocked)
}

func TestGate_KillSwitchOverridesApproval(t *testing.T) {
	gate, pool := newTestGate(t, true, config.ModeEnforce)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO approvals (approval_id, workspace_id, action, scope_type, requester_id, status, created_at, updated_at)
		VALUES ('appr-2', 'ws-2', 'external.write', 'workspace', 'u1', 'approved', now(), now())`)
	require.NoError(t, err)

	dec, err := gate.Evaluate(ctx, policy.Request{
		Action:           "external.write",
		WorkspaceID:      "ws-2",
		ActorPrincipalID: "principal-2",
	})
	require.NoError(t, err)
	require.Equal(t, policy.Deny, dec.Effect)
	require.Equal(t, "kill_switch_active", dec.ReasonCode)
}

func TestGate_ShadowModeNeverBlocks(t *testing.T) {
	gate, _ := newTestGate(t, true, config.ModeShadow)
	ctx := context.Background()

	dec, err := gate.Evaluate(ctx, policy.Request{
		Action:           "external.write",
		WorkspaceID:      "ws-3",
		ActorPrincipalID: "principal-3",
	})
	require.NoError(t, err)
	require.Equal(t, policy.Deny, dec.Effect)
	require.False(t, dec.Blocked)
}

func TestGate_DataAccessRestrictedRoomMismatch(t *testing.T) {
	gate, _ := newTestGate(t, false, config.ModeEnforce)
	ctx := context.Background()

	dec, err := gate.Evaluate(ctx, policy.Request{
		Action:      "data.read",
		WorkspaceID: "ws-4",
		RoomID:      "room-a",
		Context: map[string]any{
			"data_access": map[string]any{"label": "restricted", "room_id": "room-b"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, policy.Deny, dec.Effect)
	require.Equal(t, "data_access_restricted_room_mismatch", dec.ReasonCode)
}

func TestGate_EgressQuotaExceeded(t *testing.T) {
	gate, _ := newTestGate(t, false, config.ModeEnforce)
	ctx := context.Background()

	req := policy.Request{
		Action:           "tool.call",
		WorkspaceID:      "ws-5",
		ActorPrincipalID: "principal-5",
		EgressDomain:     "example.com",
	}

	var lastDec policy.Decision
	for i := 0; i < 6; i++ {
		dec, err := gate.Evaluate(ctx, req)
		require.NoError(t, err)
		lastDec = dec
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, policy.Deny, lastDec.Effect)
	require.Equal(t, "quota_exceeded", lastDec.ReasonCode)
}

func TestGate_QuarantinedAgentDeniedEgress(t *testing.T) {
	gate, pool := newTestGate(t, false, config.ModeEnforce)
	ctx := context.Background()

	principals := security.NewPrincipals(pool.Pool)
	principalID, err := principals.ResolveOrCreate(ctx, chain.ActorAgent, "agent-6", "agent-6")
	require.NoError(t, err)
	require.NoError(t, principals.Quarantine(ctx, principalID))

	dec, err := gate.Evaluate(ctx, policy.Request{
		Action:           "tool.call",
		WorkspaceID:      "ws-6",
		ActorPrincipalID: principalID,
		EgressDomain:     "example.com",
	})
	require.NoError(t, err)
	require.Equal(t, policy.Deny, dec.Effect)
	require.Equal(t, "agent_quarantined", dec.ReasonCode)
}
