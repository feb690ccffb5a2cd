package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/tenancy/store"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by Redis.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisOptions locate the Redis server.
type RedisOptions struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Redis is a tenant cache shared by every server process. Tenants are stored
// as JSON.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, opts RedisOptions, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", opts.Addr, err)
	}
	return NewRedis(client, cfg), nil
}

// NewRedis wraps an existing client.
func NewRedis(client RedisClient, cfg Config) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Redis{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (r *Redis) GetTenant(ctx context.Context, subdomain string) (*store.Tenant, bool, error) {
	raw, err := r.client.Get(ctx, r.key(subdomain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", subdomain, err)
	}
	var t store.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false, fmt.Errorf("decode cached tenant %s: %w", subdomain, err)
	}
	return &t, true, nil
}

func (r *Redis) SetTenant(ctx context.Context, t *store.Tenant) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", t.Subdomain, err)
	}
	if err := r.client.Set(ctx, r.key(t.Subdomain), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", t.Subdomain, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, subdomain string) error {
	if err := r.client.Del(ctx, r.key(subdomain)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", subdomain, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(subdomain string) string { return r.prefix + tenantKey(subdomain) }
