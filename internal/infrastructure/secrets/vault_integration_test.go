//go:build integration

package secrets

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

const vaultRootToken = "integration-root"

var vaultAddr string

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not connect to docker: %s", err)
	}

	vault, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "hashicorp/vault",
		Tag:        "1.15",
		Env: []string{
			"VAULT_DEV_ROOT_TOKEN_ID=" + vaultRootToken,
			"VAULT_DEV_LISTEN_ADDRESS=0.0.0.0:8200",
		},
	})
	if err != nil {
		log.Fatalf("could not start vault: %s", err)
	}
	vaultAddr = fmt.Sprintf("http://localhost:%s", vault.GetPort("8200/tcp"))

	if err := pool.Retry(func() error {
		_, err := vault.Exec([]string{"vault", "status"}, dockertest.ExecOptions{})
		return err
	}); err != nil {
		log.Fatalf("could not connect to vault: %s", err)
	}

	code := m.Run()

	if err := pool.Purge(vault); err != nil {
		log.Fatalf("could not purge vault: %s", err)
	}
	os.Exit(code)
}

func newVaultTestBackend(t *testing.T) *VaultBackend {
	t.Helper()
	backend, err := NewVaultBackend(&config.VaultConfig{
		Address:   vaultAddr,
		Token:     vaultRootToken,
		MountPath: "secret",
	}, logger.NewNop())
	require.NoError(t, err)
	return backend
}

func TestVaultBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newVaultTestBackend(t)

	require.NoError(t, backend.Store(ctx, "signing-keys/roundtrip", "key-material"))

	got, err := backend.Fetch(ctx, "signing-keys/roundtrip")
	require.NoError(t, err)
	assert.Equal(t, "key-material", got)

	exists, err := backend.Exists(ctx, "signing-keys/roundtrip")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestVaultBackendOverwrite(t *testing.T) {
	ctx := context.Background()
	backend := newVaultTestBackend(t)

	require.NoError(t, backend.Store(ctx, "signing-keys/overwrite", "v1"))
	require.NoError(t, backend.Store(ctx, "signing-keys/overwrite", "v2"))

	got, err := backend.Fetch(ctx, "signing-keys/overwrite")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestVaultBackendMissingPath(t *testing.T) {
	ctx := context.Background()
	backend := newVaultTestBackend(t)

	_, err := backend.Fetch(ctx, "signing-keys/never-written")
	assert.True(t, errors.IsNotFound(err))

	exists, err := backend.Exists(ctx, "signing-keys/never-written")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestVaultBackendDelete(t *testing.T) {
	ctx := context.Background()
	backend := newVaultTestBackend(t)

	require.NoError(t, backend.Store(ctx, "signing-keys/deleted", "gone soon"))
	require.NoError(t, backend.Delete(ctx, "signing-keys/deleted"))

	_, err := backend.Fetch(ctx, "signing-keys/deleted")
	assert.True(t, errors.IsNotFound(err))

	// Deleting an absent path is not an error.
	assert.NoError(t, backend.Delete(ctx, "signing-keys/deleted"))
}
