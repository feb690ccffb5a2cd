package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/tenancy/store"
)

// clearEnv unsets every override so host settings do not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TENANCY_ADDR", "FRONTEND_URL", "DATABASE_DRIVER", "DATABASE_URL", "DATABASE_MAX_CONNS",
		"MONGODB_URI", "MONGODB_DATABASE", "REDIS_ADDR", "REDIS_PASSWORD", "JWT_SECRET",
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_CALLBACK_URL", "LOG_LEVEL", "LOG_FORMAT",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "pgx", cfg.Relational.Driver)
	assert.Equal(t, 5, cfg.Relational.MaxOpenConns)
	assert.Equal(t, 10*time.Second, cfg.Relational.MaxIdleTime)
	assert.Equal(t, "multi_tenant_saas", cfg.Document.Database)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, store.PlanFree, cfg.Provisioning.DefaultPlan)
	assert.Equal(t, store.TargetBoth, cfg.TenantTarget())
	assert.Empty(t, cfg.Redis.Addr, "cache stays in process by default")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "tenancy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  auth_rate_limit: 3
relational:
  driver: sqlite
  dsn: "file:tenancy.db"
document:
  uri: "memory://"
redis:
  addr: "localhost:6379"
  ttl: 1m
auth:
  jwt_secret: s3cret
  token_ttl: 2h
provisioning:
  mirror_to_document: false
  default_plan: basic
log:
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Server.AuthRateLimit)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, "sqlite", cfg.Relational.Driver)
	assert.Equal(t, 5, cfg.Relational.MaxOpenConns)
	assert.Equal(t, "memory://", cfg.Document.URI)
	assert.Equal(t, "multi_tenant_saas", cfg.Document.Database)
	assert.Equal(t, time.Minute, cfg.Cache().TTL)
	assert.Equal(t, "tenancy:", cfg.Cache().Prefix)
	assert.Equal(t, "localhost:6379", cfg.RedisOptions().Addr)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, store.PlanBasic, cfg.Provisioning.DefaultPlan)
	assert.Equal(t, store.TargetRelational, cfg.TenantTarget())

	db := cfg.Database()
	assert.Equal(t, cfg.Relational, db.Relational)
	assert.Equal(t, cfg.Document, db.Document)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TENANCY_ADDR", ":7000")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:env.db")
	t.Setenv("DATABASE_MAX_CONNS", "9")
	t.Setenv("MONGODB_URI", "mongodb://mongo:27017")
	t.Setenv("MONGODB_DATABASE", "saas")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("GOOGLE_CLIENT_ID", "gid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "gsecret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4318")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Relational.Driver)
	assert.Equal(t, "file:env.db", cfg.Relational.DSN)
	assert.Equal(t, 9, cfg.Relational.MaxOpenConns)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Document.URI)
	assert.Equal(t, "saas", cfg.Document.Database)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "gid", cfg.Auth.Google.ClientID)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Tracing.Enabled())
	assert.Equal(t, "otel:4318", cfg.Tracing.Endpoint)

	t.Setenv("DATABASE_MAX_CONNS", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "DATABASE_MAX_CONNS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Relational.Driver = "oracle" }, "unsupported relational driver"},
		{"empty dsn", func(c *Config) { c.Relational.DSN = "" }, "relational.dsn"},
		{"no conns", func(c *Config) { c.Relational.MaxOpenConns = 0 }, "max_open_conns"},
		{"empty uri", func(c *Config) { c.Document.URI = "" }, "document.uri"},
		{"cost too low", func(c *Config) { c.Auth.BcryptCost = 2 }, "bcrypt_cost"},
		{"cost too high", func(c *Config) { c.Auth.BcryptCost = 40 }, "bcrypt_cost"},
		{"google without secret", func(c *Config) { c.Auth.Google.ClientID = "id" }, "client_secret"},
		{"bad plan", func(c *Config) { c.Provisioning.DefaultPlan = "gold" }, "default_plan"},
		{"bad cycle", func(c *Config) { c.Provisioning.DefaultBillingCycle = "weekly" }, "default_billing_cycle"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = -1 }, "tracing.sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.Relational.DSN = ""
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "relational.dsn")
	assert.ErrorContains(t, err, "log.format", "every problem is reported")
}

func TestNewLogger(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer tmp.Close()

	var lv slog.LevelVar
	lv.Set(slog.LevelWarn)
	cfg := Default()
	cfg.Log.Format = "json"
	logger := cfg.NewLogger(tmp, &lv)

	logger.Info("hidden")
	lv.Set(slog.LevelInfo)
	logger.Info("shown", "tenant_id", 4)

	data, err := os.ReadFile(tmp.Name())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))
	assert.Contains(t, string(data), `"tenant_id":4`)

	for _, s := range []string{"debug", "INFO", "warn", "error"} {
		_, err := ParseLevel(s)
		assert.NoError(t, err, s)
	}
}
