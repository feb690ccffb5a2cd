// Package provision onboards a tenant: it creates the tenant record, the
// tenant's databases and schema, and its default subscription.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/tenancy/billing"
	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/observability/tracing"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/tenant"
)

// Step names, in execution order.
const (
	StepValidate           = "validate"
	StepCheckSubdomain     = "check-subdomain-uniqueness"
	StepCreateTenant       = "create-tenant-row"
	StepProvisionDatabases = "provision-databases"
	StepRunMigrations      = "run-tenant-migrations"
	StepCreateSubscription = "create-default-subscription"
)

// StepError reports the step a provisioning run failed at. Steps completed
// before it are not undone.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("provisioning step %q failed: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// Tenants is the part of the tenant manager the workflow uses.
type Tenants interface {
	FindBySubdomain(ctx context.Context, subdomain string, b store.Backend) (*store.Tenant, error)
	Create(ctx context.Context, in tenant.CreateInput, target store.Target) (*store.Tenant, *store.WriteResult, error)
}

// Subscriptions is the part of the subscription manager the workflow uses.
type Subscriptions interface {
	Create(ctx context.Context, in billing.CreateInput, target store.Target) (*store.Subscription, *store.WriteResult, error)
}

// DatabaseProvisioner creates a tenant's databases.
type DatabaseProvisioner interface {
	CreateTenantDatabase(ctx context.Context, tenantID int64, target store.Target) error
}

// Migrator applies pending migrations to one scope.
type Migrator interface {
	RunAll(ctx context.Context, target store.Target, scope store.Scope) (map[store.Backend][]string, error)
}

// Options control where provisioning writes.
type Options struct {
	// RecordTarget receives the tenant and subscription records. The
	// relational store is always included.
	RecordTarget store.Target
	// DatabaseTarget selects the backends that get tenant databases and
	// migrations.
	DatabaseTarget store.Target
	// DefaultPlan and DefaultCycle apply when a request leaves them empty.
	DefaultPlan  store.PlanType
	DefaultCycle store.BillingCycle
}

// DefaultOptions mirror tenant records into the document store and provision
// both backends on the free monthly plan.
func DefaultOptions() Options {
	return Options{
		RecordTarget:   store.TargetBoth,
		DatabaseTarget: store.TargetBoth,
		DefaultPlan:    store.PlanFree,
		DefaultCycle:   store.BillingMonthly,
	}
}

// Request describes a tenant to onboard.
type Request struct {
	Name         string             `json:"name"`
	Subdomain    string             `json:"subdomain"`
	PlanType     store.PlanType     `json:"plan_type,omitempty"`
	BillingCycle store.BillingCycle `json:"billing_cycle,omitempty"`
	CreatedBy    string             `json:"created_by,omitempty"`
}

// Result is the outcome of a provisioning run. On failure it holds whatever
// the completed steps produced.
type Result struct {
	Tenant       *store.Tenant              `json:"tenant,omitempty"`
	Subscription *store.Subscription        `json:"subscription,omitempty"`
	Steps        []string                   `json:"steps"`
	Migrations   map[store.Backend][]string `json:"migrations,omitempty"`
	Writes       *store.WriteResult         `json:"-"`
}

// Workflow runs the provisioning steps in order and stops at the first
// failure.
type Workflow struct {
	tenants   Tenants
	subs      Subscriptions
	databases DatabaseProvisioner
	migrator  Migrator
	opts      Options
	metrics   *observability.Metrics
	tracer    *tracing.ProvisionTracer
	logger    *slog.Logger
}

// NewWorkflow creates a new Workflow. Zero option fields take the values of
// DefaultOptions.
func NewWorkflow(tenants Tenants, subs Subscriptions, databases DatabaseProvisioner, migrator Migrator, opts Options, logger *slog.Logger) *Workflow {
	def := DefaultOptions()
	if opts.RecordTarget == 0 {
		opts.RecordTarget = def.RecordTarget
	}
	opts.RecordTarget |= store.TargetRelational
	if opts.DatabaseTarget == 0 {
		opts.DatabaseTarget = def.DatabaseTarget
	}
	if opts.DefaultPlan == "" {
		opts.DefaultPlan = def.DefaultPlan
	}
	if opts.DefaultCycle == "" {
		opts.DefaultCycle = def.DefaultCycle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		tenants:   tenants,
		subs:      subs,
		databases: databases,
		migrator:  migrator,
		opts:      opts,
		tracer:    tracing.NewProvisionTracer(nil),
		logger:    logger,
	}
}

// SetMetrics attaches a metrics collector.
func (w *Workflow) SetMetrics(m *observability.Metrics) { w.metrics = m }

// SetTracer replaces the span source, which defaults to the global provider.
func (w *Workflow) SetTracer(t *tracing.ProvisionTracer) { w.tracer = t }

type step struct {
	name string
	run  func(ctx context.Context, st *state) error
}

type state struct {
	req       Request
	subdomain string
	res       *Result
}

// Provision onboards the tenant described by req.
func (w *Workflow) Provision(ctx context.Context, req Request) (*Result, error) {
	st := &state{req: req, res: &Result{Writes: &store.WriteResult{}}}
	steps := []step{
		{StepValidate, w.validate},
		{StepCheckSubdomain, w.checkSubdomain},
		{StepCreateTenant, w.createTenant},
		{StepProvisionDatabases, w.provisionDatabases},
		{StepRunMigrations, w.runMigrations},
		{StepCreateSubscription, w.createSubscription},
	}

	ctx, run := w.tracer.StartRun(ctx, req.Subdomain, string(req.PlanType))
	w.logger.Info("provisioning started", "subdomain", req.Subdomain, "steps", len(steps))
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			err = w.fail(s.name, fmt.Errorf("provisioning cancelled: %w", err))
			tracing.End(run, err)
			return st.res, err
		}
		start := time.Now()
		stepCtx, span := w.tracer.StartStep(ctx, s.name)
		err := s.run(stepCtx, st)
		tracing.End(span, err)
		if err != nil {
			w.logger.Error("provisioning step failed", "step", s.name, "subdomain", st.subdomain, "error", err, "elapsed", time.Since(start))
			err = w.fail(s.name, err)
			tracing.End(run, err)
			return st.res, err
		}
		st.res.Steps = append(st.res.Steps, s.name)
		w.logger.Debug("provisioning step completed", "step", s.name, "elapsed", time.Since(start))
	}
	tracing.End(run, nil)

	w.metrics.RecordProvisioning(nil)
	w.logger.Info("provisioning completed", "tenant_id", st.res.Tenant.ID, "subdomain", st.subdomain, "degraded", st.res.Writes.Degraded())
	return st.res, nil
}

func (w *Workflow) fail(name string, err error) error {
	err = &StepError{Step: name, Err: err}
	w.metrics.RecordProvisioning(err)
	return err
}

func (w *Workflow) validate(_ context.Context, st *state) error {
	if strings.TrimSpace(st.req.Name) == "" || strings.TrimSpace(st.req.Subdomain) == "" {
		return store.Validationf("name and subdomain are required")
	}
	sub, err := tenant.NormalizeSubdomain(st.req.Subdomain)
	if err != nil {
		return err
	}
	st.subdomain = sub
	if st.req.PlanType == "" {
		st.req.PlanType = w.opts.DefaultPlan
	}
	if !store.ValidPlanTypes[st.req.PlanType] {
		return store.Validationf("invalid plan type %q", st.req.PlanType)
	}
	if st.req.BillingCycle == "" {
		st.req.BillingCycle = w.opts.DefaultCycle
	}
	if !store.ValidBillingCycles[st.req.BillingCycle] {
		return store.Validationf("invalid billing cycle %q", st.req.BillingCycle)
	}
	if st.req.CreatedBy == "" {
		st.req.CreatedBy = "api"
	}
	return nil
}

func (w *Workflow) checkSubdomain(ctx context.Context, st *state) error {
	_, err := w.tenants.FindBySubdomain(ctx, st.subdomain, store.BackendRelational)
	switch {
	case err == nil:
		return fmt.Errorf("%w: subdomain %q already exists", store.ErrConflict, st.subdomain)
	case errors.Is(err, store.ErrNotFound):
		return nil
	}
	return err
}

func (w *Workflow) createTenant(ctx context.Context, st *state) error {
	t, res, err := w.tenants.Create(ctx, tenant.CreateInput{
		Name:      st.req.Name,
		Subdomain: st.subdomain,
		Status:    store.TenantStatusActive,
		Settings: store.Settings{
			"created_by":           st.req.CreatedBy,
			"onboarding_completed": false,
		},
	}, w.opts.RecordTarget)
	st.res.Writes.Merge(res)
	if err != nil {
		return err
	}
	st.res.Tenant = t
	return nil
}

func (w *Workflow) provisionDatabases(ctx context.Context, st *state) error {
	return w.databases.CreateTenantDatabase(ctx, st.res.Tenant.ID, w.opts.DatabaseTarget)
}

func (w *Workflow) runMigrations(ctx context.Context, st *state) error {
	applied, err := w.migrator.RunAll(ctx, w.opts.DatabaseTarget, store.ForTenant(st.res.Tenant.ID))
	st.res.Migrations = applied
	return err
}

func (w *Workflow) createSubscription(ctx context.Context, st *state) error {
	sub, res, err := w.subs.Create(ctx, billing.CreateInput{
		TenantID:     st.res.Tenant.ID,
		PlanType:     st.req.PlanType,
		BillingCycle: st.req.BillingCycle,
	}, w.opts.RecordTarget)
	st.res.Writes.Merge(res)
	if err != nil {
		return err
	}
	st.res.Subscription = sub
	return nil
}
