// Package secret resolves named secrets such as connection strings from the environment or Vault.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when a secret does not exist.
var ErrNotFound = errors.New("secret: not found")

// Provider resolves secrets by name. Implementations must be safe for concurrent use.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from environment variables. Names are upper-cased and
// dashes become underscores, so "database-url" reads DATABASE_URL.
type EnvProvider struct {
	Prefix string
}

// GetSecret implements Provider.
func (p EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// CachingProvider memoizes another Provider for the life of the process. Failures are not cached.
type CachingProvider struct {
	next Provider

	mu     sync.Mutex
	values map[string]string
}

// NewCachingProvider wraps next.
func NewCachingProvider(next Provider) *CachingProvider {
	return &CachingProvider{next: next, values: make(map[string]string)}
}

// GetSecret implements Provider.
func (p *CachingProvider) GetSecret(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	v, ok := p.values[name]
	p.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := p.next.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.values[name] = v
	p.mu.Unlock()
	return v, nil
}

// Resolve returns the secret name from p, or fallback when name is empty.
// It lets configuration carry either a literal value or a secret reference.
func Resolve(ctx context.Context, p Provider, name, fallback string) (string, error) {
	if name == "" || p == nil {
		return fallback, nil
	}
	return p.GetSecret(ctx, name)
}
