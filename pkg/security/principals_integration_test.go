package security_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func TestPrincipals_ResolveOrCreateIsIdempotent(t *testing.T) {
	pool := testutil.NewPool(t)
	principals := security.NewPrincipals(pool)
	ctx := context.Background()

	id1, err := principals.ResolveOrCreate(ctx, chain.ActorAgent, "agent-7", "Agent Seven")
	require.NoError(t, err)

	id2, err := principals.ResolveOrCreate(ctx, chain.ActorAgent, "agent-7", "Agent Seven Renamed")
	require.NoError(t, err)

	require.Equal(t, id1, id2, "resolving the same (kind, stable_actor_id) twice must return the same principal")
}

func TestPrincipals_QuarantineRoundTrip(t *testing.T) {
	pool := testutil.NewPool(t)
	principals := security.NewPrincipals(pool)
	ctx := context.Background()

	id, err := principals.ResolveOrCreate(ctx, chain.ActorAgent, "agent-99", "Agent")
	require.NoError(t, err)

	got, err := principals.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, got.IsQuarantined())

	require.NoError(t, principals.Quarantine(ctx, id))
	got, err = principals.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, got.IsQuarantined())

	require.NoError(t, principals.Unquarantine(ctx, id))
	got, err = principals.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, got.IsQuarantined())
}
