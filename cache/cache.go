// Package cache keeps tenant lookups close to the HTTP layer. Entries are
// keyed by subdomain and invalidated by the tenant manager on every change.
package cache

import (
	"context"
	"time"

	"github.com/GoCodeAlone/tenancy/store"
)

// Cache stores tenants by subdomain. A miss is (nil, false, nil).
type Cache interface {
	GetTenant(ctx context.Context, subdomain string) (*store.Tenant, bool, error)
	SetTenant(ctx context.Context, t *store.Tenant) error
	Invalidate(ctx context.Context, subdomain string) error
}

// Config configures both cache implementations.
type Config struct {
	// MaxSize bounds the local cache.
	MaxSize int `yaml:"max_size"`
	// TTL is the lifetime of an entry.
	TTL time.Duration `yaml:"ttl"`
	// Prefix is prepended to Redis keys.
	Prefix string `yaml:"prefix"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize: 10000,
		TTL:     5 * time.Minute,
		Prefix:  "tenancy:",
	}
}

func tenantKey(subdomain string) string { return "tenant:" + subdomain }
