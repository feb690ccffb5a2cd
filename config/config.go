// Package config loads the server and CLI configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/tenancy/cache"
	"github.com/GoCodeAlone/tenancy/database"
	"github.com/GoCodeAlone/tenancy/observability/tracing"
	"github.com/GoCodeAlone/tenancy/store"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AuthRateLimit is requests per minute per IP on register and login.
	AuthRateLimit int    `yaml:"auth_rate_limit"`
	FrontendURL   string `yaml:"frontend_url"`
	// APIRequestsPerMinute turns on per-tenant rate limiting when positive.
	APIRequestsPerMinute int `yaml:"api_requests_per_minute"`
}

// RedisConfig configures the shared tenant cache. An empty Addr keeps the
// cache in process.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	MaxSize  int           `yaml:"max_size"`
}

// GoogleConfig holds the Google OAuth client. Sign-in is off while ClientID
// is empty.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

// AuthConfig configures tokens and password hashing.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	JWTIssuer  string        `yaml:"jwt_issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
	Google     GoogleConfig  `yaml:"google"`
}

// ProvisioningConfig controls where new tenants are written.
type ProvisioningConfig struct {
	MirrorToDocument    bool               `yaml:"mirror_to_document"`
	DefaultPlan         store.PlanType     `yaml:"default_plan"`
	DefaultBillingCycle store.BillingCycle `yaml:"default_billing_cycle"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete configuration.
type Config struct {
	Server       ServerConfig              `yaml:"server"`
	Relational   database.RelationalConfig `yaml:"relational"`
	Document     database.DocumentConfig   `yaml:"document"`
	Redis        RedisConfig               `yaml:"redis"`
	Auth         AuthConfig                `yaml:"auth"`
	Provisioning ProvisioningConfig        `yaml:"provisioning"`
	Log          LogConfig                 `yaml:"log"`
	Tracing      tracing.Config            `yaml:"tracing"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	db := database.DefaultConfig()
	cc := cache.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AuthRateLimit:   10,
		},
		Relational: db.Relational,
		Document:   db.Document,
		Redis: RedisConfig{
			Prefix:  cc.Prefix,
			TTL:     cc.TTL,
			MaxSize: cc.MaxSize,
		},
		Auth: AuthConfig{
			JWTIssuer:  "tenancy",
			TokenTTL:   24 * time.Hour,
			BcryptCost: 12,
		},
		Provisioning: ProvisioningConfig{
			MirrorToDocument:    true,
			DefaultPlan:         store.PlanFree,
			DefaultBillingCycle: store.BillingMonthly,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: tracing.DefaultConfig(),
	}
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("TENANCY_ADDR", &c.Server.Addr)
	str("FRONTEND_URL", &c.Server.FrontendURL)
	str("DATABASE_DRIVER", &c.Relational.Driver)
	str("DATABASE_URL", &c.Relational.DSN)
	str("MONGODB_URI", &c.Document.URI)
	str("MONGODB_DATABASE", &c.Document.Database)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("GOOGLE_CLIENT_ID", &c.Auth.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Auth.Google.ClientSecret)
	str("GOOGLE_CALLBACK_URL", &c.Auth.Google.CallbackURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v := os.Getenv("DATABASE_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DATABASE_MAX_CONNS: %w", err)
		}
		c.Relational.MaxOpenConns = n
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := store.DialectFor(c.Relational.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.Relational.DSN == "" {
		errs = append(errs, errors.New("relational.dsn is required"))
	}
	if c.Relational.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("relational.max_open_conns must be positive, got %d", c.Relational.MaxOpenConns))
	}
	if c.Document.URI == "" {
		errs = append(errs, errors.New("document.uri is required"))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be in [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost))
	}
	if c.Auth.Google.ClientID != "" && c.Auth.Google.ClientSecret == "" {
		errs = append(errs, errors.New("auth.google.client_secret is required with a client_id"))
	}
	if !store.ValidPlanTypes[c.Provisioning.DefaultPlan] {
		errs = append(errs, fmt.Errorf("provisioning.default_plan %q is not a plan", c.Provisioning.DefaultPlan))
	}
	if !store.ValidBillingCycles[c.Provisioning.DefaultBillingCycle] {
		errs = append(errs, fmt.Errorf("provisioning.default_billing_cycle %q is not a billing cycle", c.Provisioning.DefaultBillingCycle))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Database returns the connection registry configuration.
func (c *Config) Database() database.Config {
	return database.Config{Relational: c.Relational, Document: c.Document}
}

// Cache returns the tenant cache configuration.
func (c *Config) Cache() cache.Config {
	return cache.Config{MaxSize: c.Redis.MaxSize, TTL: c.Redis.TTL, Prefix: c.Redis.Prefix}
}

// RedisOptions returns the Redis connection options.
func (c *Config) RedisOptions() cache.RedisOptions {
	return cache.RedisOptions{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB}
}

// TenantTarget is where tenant and subscription records are written. The
// relational store is always included.
func (c *Config) TenantTarget() store.Target {
	if c.Provisioning.MirrorToDocument {
		return store.TargetBoth
	}
	return store.TargetRelational
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the slog logger described by the log section. The level
// is read from lv so it can change at runtime.
func (c *Config) NewLogger(w *os.File, lv *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if strings.ToLower(c.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
