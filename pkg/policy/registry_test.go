package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/policy"
)

func TestRegistry_IrreversibleActionEscalatesOutsideHighStakes(t *testing.T) {
	reg, err := policy.NewRegistry()
	require.NoError(t, err)
	reg.Register("workspace.delete", policy.ActionDescriptor{Irreversible: true})

	dec, err := reg.Evaluate(policy.Request{Action: "workspace.delete"}, chain.ZoneSupervised)
	require.NoError(t, err)
	require.NotNil(t, dec)
	require.Equal(t, policy.RequireApproval, dec.Effect)
	require.Equal(t, "irreversible_action_escalation", dec.ReasonCode)
}

func TestRegistry_IrreversibleActionAllowedInHighStakes(t *testing.T) {
	reg, err := policy.NewRegistry()
	require.NoError(t, err)
	reg.Register("workspace.delete", policy.ActionDescriptor{Irreversible: true})

	dec, err := reg.Evaluate(policy.Request{Action: "workspace.delete"}, chain.ZoneHighStakes)
	require.NoError(t, err)
	require.Nil(t, dec)
}

func TestRegistry_RequiresPreApprovalAlwaysEscalates(t *testing.T) {
	reg, err := policy.NewRegistry()
	require.NoError(t, err)
	reg.Register("budget.increase", policy.ActionDescriptor{RequiresPreApproval: true})

	dec, err := reg.Evaluate(policy.Request{Action: "budget.increase"}, chain.ZoneHighStakes)
	require.NoError(t, err)
	require.NotNil(t, dec)
	require.Equal(t, policy.RequireApproval, dec.Effect)
	require.Equal(t, "action_requires_pre_approval", dec.ReasonCode)
}

func TestRegistry_UnregisteredActionFallsThrough(t *testing.T) {
	reg, err := policy.NewRegistry()
	require.NoError(t, err)

	dec, err := reg.Evaluate(policy.Request{Action: "anything.else"}, chain.ZoneSupervised)
	require.NoError(t, err)
	require.Nil(t, dec)
}

func TestRegistry_PredicateGatesAction(t *testing.T) {
	reg, err := policy.NewRegistry()
	require.NoError(t, err)
	reg.Register("tool.call", policy.ActionDescriptor{Predicate: `context.tool_name != "rm_rf"`})

	blocked, err := reg.Evaluate(policy.Request{
		Action:  "tool.call",
		Context: map[string]any{"tool_name": "rm_rf"},
	}, chain.ZoneSupervised)
	require.NoError(t, err)
	require.NotNil(t, blocked)
	require.Equal(t, policy.RequireApproval, blocked.Effect)

	allowed, err := reg.Evaluate(policy.Request{
		Action:  "tool.call",
		Context: map[string]any{"tool_name": "read_file"},
	}, chain.ZoneSupervised)
	require.NoError(t, err)
	require.Nil(t, allowed)
}
