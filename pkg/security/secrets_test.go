package security_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func TestSecrets_PutGetRoundTrip(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	keys := security.StaticKeyRing{Version: 1, Key: key}

	secrets := security.NewSecrets(pool, keys)

	plaintext := []byte(`{"api_key":"sk_live_abcdef"}`)
	require.NoError(t, secrets.Put(ctx, "secret-1", plaintext))

	got, err := secrets.Get(ctx, "secret-1")
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestSecrets_GetMissingReturnsNotFound(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()

	var key [32]byte
	keys := security.StaticKeyRing{Version: 1, Key: key}
	secrets := security.NewSecrets(pool, keys)

	_, err := secrets.Get(ctx, "does-not-exist")
	require.ErrorIs(t, err, security.ErrSecretNotFound)
}
