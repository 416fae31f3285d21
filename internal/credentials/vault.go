package credentials

import (
	"context"
	"fmt"

	"trading-platform/config"

	"github.com/hashicorp/vault/api"
)

// VaultStore mirrors credential payloads into HashiCorp Vault's KV v2
// engine. The database row stays the source of truth; Vault is an
// optional secondary store for operators who already run it.
type VaultStore struct {
	client *api.Client
	cfg    config.VaultConfig
}

// NewVaultStore creates a Vault-backed store. Returns nil when Vault is
// disabled in configuration.
func NewVaultStore(cfg config.VaultConfig) (*VaultStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &VaultStore{client: client, cfg: cfg}, nil
}

// Store writes a credential payload under the credential's ID
func (v *VaultStore) Store(ctx context.Context, credentialID string, payload Payload) error {
	data := make(map[string]interface{}, len(payload))
	for k, val := range payload {
		data[k] = val
	}

	_, err := v.client.Logical().WriteWithContext(ctx, v.dataPath(credentialID), map[string]interface{}{
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("writing credential to vault: %w", err)
	}
	return nil
}

// Fetch reads a credential payload back from Vault
func (v *VaultStore) Fetch(ctx context.Context, credentialID string) (Payload, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.dataPath(credentialID))
	if err != nil {
		return nil, fmt.Errorf("reading credential from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credential %s not found in vault", credentialID)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected vault secret format for %s", credentialID)
	}

	payload := make(Payload, len(data))
	for k, val := range data {
		if s, ok := val.(string); ok {
			payload[k] = s
		}
	}
	return payload, nil
}

// Delete removes a credential's secret and metadata
func (v *VaultStore) Delete(ctx context.Context, credentialID string) error {
	_, err := v.client.Logical().DeleteWithContext(ctx, v.metadataPath(credentialID))
	if err != nil {
		return fmt.Errorf("deleting credential from vault: %w", err)
	}
	return nil
}

// Health checks that Vault is reachable and unsealed
func (v *VaultStore) Health(ctx context.Context) error {
	health, err := v.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (v *VaultStore) dataPath(credentialID string) string {
	return fmt.Sprintf("%s/data/broker-credentials/%s", v.cfg.MountPath, credentialID)
}

func (v *VaultStore) metadataPath(credentialID string) string {
	return fmt.Sprintf("%s/metadata/broker-credentials/%s", v.cfg.MountPath, credentialID)
}
