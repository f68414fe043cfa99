package secrets

import (
	"context"
	stderrors "errors"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// VaultBackend stores secrets in HashiCorp Vault's KVv2 engine. Each secret
// path maps to one KVv2 entry holding the value under a single field.
type VaultBackend struct {
	client    *vault.Client
	mountPath string
	log       logger.Logger
}

const vaultValueField = "value"

// NewVaultBackend creates and configures a Vault-backed secrets store.
func NewVaultBackend(cfg *config.VaultConfig, log logger.Logger) (*VaultBackend, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, err
	}
	client.SetToken(cfg.Token)

	return &VaultBackend{
		client:    client,
		mountPath: cfg.MountPath,
		log:       log.WithComponent("vault"),
	}, nil
}

func (v *VaultBackend) Fetch(ctx context.Context, path string) (string, error) {
	secret, err := v.client.KVv2(v.mountPath).Get(ctx, path)
	if err != nil {
		if isVaultNotFound(err) {
			return "", errors.ErrNotFound
		}
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", errors.ErrNotFound
	}
	value, ok := secret.Data[vaultValueField].(string)
	if !ok {
		return "", errors.ErrNotFound
	}
	return value, nil
}

func (v *VaultBackend) Store(ctx context.Context, path, value string) error {
	_, err := v.client.KVv2(v.mountPath).Put(ctx, path, map[string]interface{}{
		vaultValueField: value,
	})
	return err
}

func (v *VaultBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := v.Fetch(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (v *VaultBackend) Delete(ctx context.Context, path string) error {
	if err := v.client.KVv2(v.mountPath).DeleteMetadata(ctx, path); err != nil {
		if isVaultNotFound(err) {
			return errors.ErrNotFound
		}
		return err
	}
	return nil
}

// isVaultNotFound detects the KVv2 client's missing-secret errors.
func isVaultNotFound(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, vault.ErrSecretNotFound) {
		return true
	}
	if respErr, ok := err.(*vault.ResponseError); ok && respErr.StatusCode == 404 {
		return true
	}
	return strings.Contains(err.Error(), "secret not found")
}
