// Package setup wires the connection registry, migration runner, cache and
// entity managers shared by the server and the tenantctl CLI.
//
// Typical usage:
//
//	app, err := setup.New(ctx, cfg, logger)
//	if err != nil { ... }
//	defer app.Close(context.Background())
//	if _, err := app.Migrate(ctx); err != nil { ... }
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/tenancy/billing"
	"github.com/GoCodeAlone/tenancy/cache"
	"github.com/GoCodeAlone/tenancy/config"
	"github.com/GoCodeAlone/tenancy/database"
	"github.com/GoCodeAlone/tenancy/migration"
	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/provision"
	"github.com/GoCodeAlone/tenancy/schema"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/tenant"
	"github.com/GoCodeAlone/tenancy/user"
)

// App holds the connected services.
type App struct {
	Config        *config.Config
	Registry      *database.Registry
	Migrations    *migration.Runner
	Cache         cache.Cache
	Metrics       *observability.Metrics
	Tenants       *tenant.Manager
	Users         *user.Manager
	Subscriptions *billing.Manager
	Provisioner   *provision.Workflow

	logger *slog.Logger
	redis  *cache.Redis
}

// New connects the stores described by cfg and builds every manager. The
// caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg, err := database.Open(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Registry: reg, Metrics: observability.NewMetrics(), logger: logger}

	var locker migration.DistributedLock
	if reg.Dialect().SupportsDatabases() {
		db, err := reg.Relational(ctx, store.Global)
		if err != nil {
			_ = reg.Close(ctx)
			return nil, err
		}
		locker = migration.NewPostgresLock(db)
	}
	a.Migrations = migration.NewRunner(reg, schema.Migrations(), locker, logger)
	a.Migrations.SetMetrics(a.Metrics)

	if cfg.Redis.Addr != "" {
		r, err := cache.DialRedis(ctx, cfg.RedisOptions(), cfg.Cache())
		if err != nil {
			_ = reg.Close(ctx)
			return nil, err
		}
		a.redis, a.Cache = r, r
		logger.Info("tenant cache using redis", "addr", cfg.Redis.Addr)
	} else {
		a.Cache = cache.NewLocal(cfg.Cache())
	}

	rel, doc := reg.RelationalProvider(), reg.DocumentProvider()
	a.Tenants = tenant.NewManager(rel, doc,
		tenant.WithCache(a.Cache), tenant.WithMetrics(a.Metrics), tenant.WithLogger(logger))
	a.Users = user.NewManager(rel, doc,
		user.WithBcryptCost(cfg.Auth.BcryptCost), user.WithMetrics(a.Metrics), user.WithLogger(logger))
	a.Subscriptions = billing.NewManager(rel, doc,
		billing.WithMetrics(a.Metrics), billing.WithLogger(logger))

	a.Provisioner = provision.NewWorkflow(a.Tenants, a.Subscriptions, reg, a.Migrations, provision.Options{
		RecordTarget:   cfg.TenantTarget(),
		DatabaseTarget: a.MigrationTarget(store.TargetBoth),
		DefaultPlan:    cfg.Provisioning.DefaultPlan,
		DefaultCycle:   cfg.Provisioning.DefaultBillingCycle,
	}, logger)
	a.Provisioner.SetMetrics(a.Metrics)
	return a, nil
}

// MigrationTarget masks out backends that cannot run migrations, such as the
// in-process document store.
func (a *App) MigrationTarget(t store.Target) store.Target { return a.Registry.MigrationTarget(t) }

// UserTarget is where user writes go: the document main collection plus the
// relational mirror.
func (a *App) UserTarget() store.Target { return store.TargetBoth }

// Migrate applies pending global migrations on every backend that supports
// them.
func (a *App) Migrate(ctx context.Context) (map[store.Backend][]string, error) {
	applied, err := a.Migrations.RunAll(ctx, a.MigrationTarget(store.TargetBoth), store.Global)
	if err != nil {
		return applied, fmt.Errorf("global migrations: %w", err)
	}
	for b, names := range applied {
		if len(names) > 0 {
			a.logger.Info("applied global migrations", "backend", b, "count", len(names))
		}
	}
	return applied, nil
}

// Ping checks the stores.
func (a *App) Ping(ctx context.Context) error { return a.Registry.Ping(ctx) }

// Close releases the cache connection and every database handle.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.Registry.Close(ctx))
	return errors.Join(errs...)
}
