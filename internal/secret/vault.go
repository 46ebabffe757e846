package secret

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// DefaultValueField is the KV field holding a secret's value.
const DefaultValueField = "value"

// VaultConfig configures a VaultProvider. Zero fields fall back to the standard VAULT_* environment.
type VaultConfig struct {
	Address string
	Token   string
	// Mount is the KV v2 mount path. Defaults to "secret".
	Mount         string
	Field         string
	ClientTimeout time.Duration
	MaxRetries    int
}

// VaultProvider reads secrets from a Vault KV v2 engine at {mount}/data/{name}.
type VaultProvider struct {
	Client *api.Client
	mount  string
	field  string
}

// NewVaultProvider creates a client from the default Vault configuration overlaid with cfg.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	apiCFG := api.DefaultConfig()
	if apiCFG.Error != nil {
		return nil, apiCFG.Error
	}
	if cfg.Address != "" {
		apiCFG.Address = cfg.Address
	}
	if cfg.ClientTimeout > 0 {
		apiCFG.Timeout = cfg.ClientTimeout
	}
	if cfg.MaxRetries > 0 {
		apiCFG.MaxRetries = cfg.MaxRetries
	}
	c, err := api.NewClient(apiCFG)
	if err != nil {
		return nil, err
	}
	if cfg.Token != "" {
		c.SetToken(cfg.Token)
	}
	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	field := cfg.Field
	if field == "" {
		field = DefaultValueField
	}
	return &VaultProvider{Client: c, mount: mount, field: field}, nil
}

// GetSecret implements Provider.
func (p *VaultProvider) GetSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/data/%s", p.mount, strings.Trim(name, "/"))
	sec, err := p.Client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", path, err)
	}
	if sec == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	data, ok := sec.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("secret: %s: value found in secret data is not map[string]interface{}", path)
	}
	v, ok := data[p.field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s field %q", ErrNotFound, path, p.field)
	}
	return v, nil
}
