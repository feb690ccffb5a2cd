// Package tenant manages tenant records across the relational store, which
// is authoritative, and the document store mirror.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"

	"github.com/GoCodeAlone/tenancy/cache"
	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/store"
)

// Settings keys maintained by Suspend and Activate.
const (
	SettingSuspendedAt      = "suspended_at"
	SettingSuspensionReason = "suspension_reason"
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// NormalizeSubdomain lower-cases and trims s and checks its shape.
func NormalizeSubdomain(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", store.Validationf("subdomain is required")
	}
	if len(s) > 63 || !subdomainPattern.MatchString(s) {
		return "", store.Validationf("invalid subdomain %q", s)
	}
	return s, nil
}

// DatabaseName returns the database name derived from a subdomain.
func DatabaseName(subdomain string) string { return "tenant_" + subdomain }

// CreateInput describes a new tenant.
type CreateInput struct {
	Name      string             `json:"name"`
	Subdomain string             `json:"subdomain"`
	Status    store.TenantStatus `json:"status,omitempty"`
	Settings  store.Settings     `json:"settings,omitempty"`
}

// Patch holds optional tenant changes. Settings are merged key by key into
// the existing settings.
type Patch struct {
	Name     *string             `json:"name,omitempty"`
	Status   *store.TenantStatus `json:"status,omitempty"`
	Settings store.Settings      `json:"settings,omitempty"`
}

// Manager creates, reads and changes tenants.
type Manager struct {
	relational store.Provider
	document   store.Provider
	cache      cache.Cache
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache enables the subdomain cache used by Resolve.
func WithCache(c cache.Cache) Option { return func(m *Manager) { m.cache = c } }

// WithMetrics attaches a metrics collector.
func WithMetrics(mt *observability.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager creates a new Manager. document may be nil when no mirror is
// configured.
func NewManager(relational, document store.Provider, opts ...Option) *Manager {
	m := &Manager{relational: relational, document: document}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *Manager) provider(b store.Backend) (store.Provider, error) {
	var p store.Provider
	switch b {
	case store.BackendRelational:
		p = m.relational
	case store.BackendDocument:
		p = m.document
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no %s tenant store", store.ErrUninitialized, b)
	}
	return p, nil
}

func (m *Manager) tenants(ctx context.Context, b store.Backend) (store.TenantStore, error) {
	p, err := m.provider(b)
	if err != nil {
		return nil, err
	}
	return p.Tenants(ctx, store.Global)
}

// write applies fn to the tenant store of every backend in target, primary
// first. A primary failure is returned; secondary failures are logged and
// recorded in the result.
func (m *Manager) write(ctx context.Context, target store.Target, op string, fn func(store.TenantStore) error) (*store.WriteResult, error) {
	if target == 0 {
		return nil, store.Validationf("empty write target")
	}
	res := &store.WriteResult{}
	primary := target.Primary()
	for _, b := range target.Backends() {
		ts, err := m.tenants(ctx, b)
		if err == nil {
			err = fn(ts)
		}
		m.metrics.RecordWrite("tenant", string(b), err)
		res.Record(b, store.Global, b == primary, err)
		if err == nil {
			continue
		}
		if b == primary {
			return res, err
		}
		m.logger.Warn("tenant mirror write failed", "op", op, "backend", b, "error", err)
	}
	if res.Degraded() {
		m.metrics.RecordDegraded("tenant")
	}
	return res, nil
}

// Create validates in, checks subdomain uniqueness against the primary store
// of target and writes the tenant. The mirror copy carries the primary id.
func (m *Manager) Create(ctx context.Context, in CreateInput, target store.Target) (*store.Tenant, *store.WriteResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, store.Validationf("tenant name is required")
	}
	sub, err := NormalizeSubdomain(in.Subdomain)
	if err != nil {
		return nil, nil, err
	}
	status := in.Status
	if status == "" {
		status = store.TenantStatusActive
	}
	if !store.ValidTenantStatuses[status] {
		return nil, nil, store.Validationf("invalid tenant status %q", status)
	}

	if _, err := m.FindBySubdomain(ctx, sub, target.Primary()); err == nil {
		return nil, nil, fmt.Errorf("%w: subdomain %q already exists", store.ErrConflict, sub)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	now := store.Now()
	t := &store.Tenant{
		Name:         name,
		Subdomain:    sub,
		DatabaseName: DatabaseName(sub),
		Status:       status,
		Settings:     maps.Clone(in.Settings),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.Settings == nil {
		t.Settings = store.Settings{}
	}

	res, err := m.write(ctx, target, "create", func(ts store.TenantStore) error {
		// The first store assigns the id; mirrors reuse it.
		cp := t.Clone()
		if err := ts.Create(ctx, cp); err != nil {
			return err
		}
		t.ID = cp.ID
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	m.logger.Info("tenant created", "tenant_id", t.ID, "subdomain", sub)
	return t, res, nil
}

// FindBySubdomain looks a tenant up by subdomain in backend b.
func (m *Manager) FindBySubdomain(ctx context.Context, subdomain string, b store.Backend) (*store.Tenant, error) {
	ts, err := m.tenants(ctx, b)
	if err != nil {
		return nil, err
	}
	return ts.GetBySubdomain(ctx, strings.ToLower(strings.TrimSpace(subdomain)))
}

// FindByID looks a tenant up by id in backend b.
func (m *Manager) FindByID(ctx context.Context, id int64, b store.Backend) (*store.Tenant, error) {
	ts, err := m.tenants(ctx, b)
	if err != nil {
		return nil, err
	}
	return ts.Get(ctx, id)
}

// FindAll lists tenants, newest first.
func (m *Manager) FindAll(ctx context.Context, f store.TenantFilter, b store.Backend) ([]*store.Tenant, error) {
	ts, err := m.tenants(ctx, b)
	if err != nil {
		return nil, err
	}
	return ts.List(ctx, f)
}

// Count counts tenants matching f.
func (m *Manager) Count(ctx context.Context, f store.TenantFilter, b store.Backend) (int64, error) {
	ts, err := m.tenants(ctx, b)
	if err != nil {
		return 0, err
	}
	return ts.Count(ctx, f)
}

// CountActive counts active tenants in the relational store.
func (m *Manager) CountActive(ctx context.Context) (int64, error) {
	return m.Count(ctx, store.TenantFilter{Status: store.TenantStatusActive}, store.BackendRelational)
}

// Update applies p to the tenant and writes the result to every store in
// target.
func (m *Manager) Update(ctx context.Context, id int64, p Patch, target store.Target) (*store.Tenant, *store.WriteResult, error) {
	if p.Status != nil && !store.ValidTenantStatuses[*p.Status] {
		return nil, nil, store.Validationf("invalid tenant status %q", *p.Status)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, nil, store.Validationf("tenant name cannot be empty")
	}
	return m.mutate(ctx, id, target, "update", func(t *store.Tenant) {
		if p.Name != nil {
			t.Name = strings.TrimSpace(*p.Name)
		}
		if p.Status != nil {
			t.Status = *p.Status
		}
		for k, v := range p.Settings {
			t.Settings[k] = v
		}
	})
}

// Suspend marks the tenant suspended and records when and why.
func (m *Manager) Suspend(ctx context.Context, id int64, reason string, target store.Target) (*store.Tenant, *store.WriteResult, error) {
	return m.mutate(ctx, id, target, "suspend", func(t *store.Tenant) {
		t.Status = store.TenantStatusSuspended
		t.Settings[SettingSuspendedAt] = t.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00")
		t.Settings[SettingSuspensionReason] = reason
	})
}

// Activate marks the tenant active and clears the suspension metadata.
func (m *Manager) Activate(ctx context.Context, id int64, target store.Target) (*store.Tenant, *store.WriteResult, error) {
	return m.mutate(ctx, id, target, "activate", func(t *store.Tenant) {
		t.Status = store.TenantStatusActive
		delete(t.Settings, SettingSuspendedAt)
		delete(t.Settings, SettingSuspensionReason)
	})
}

// mutate reads the tenant from the primary store of target, applies fn and
// writes it back everywhere.
func (m *Manager) mutate(ctx context.Context, id int64, target store.Target, op string, fn func(*store.Tenant)) (*store.Tenant, *store.WriteResult, error) {
	if target == 0 {
		return nil, nil, store.Validationf("empty write target")
	}
	t, err := m.FindByID(ctx, id, target.Primary())
	if err != nil {
		return nil, nil, err
	}
	if t.Settings == nil {
		t.Settings = store.Settings{}
	}
	t.UpdatedAt = store.Now()
	fn(t)

	res, err := m.write(ctx, target, op, func(ts store.TenantStore) error {
		return ts.Update(ctx, t)
	})
	m.invalidate(ctx, t.Subdomain)
	if err != nil {
		return nil, res, err
	}
	return t, res, nil
}

// Delete removes the tenant from every store in target.
func (m *Manager) Delete(ctx context.Context, id int64, target store.Target) (*store.WriteResult, error) {
	if target == 0 {
		return nil, store.Validationf("empty write target")
	}
	t, err := m.FindByID(ctx, id, target.Primary())
	if err != nil {
		return nil, err
	}
	res, err := m.write(ctx, target, "delete", func(ts store.TenantStore) error {
		return ts.Delete(ctx, id)
	})
	m.invalidate(ctx, t.Subdomain)
	if err != nil {
		return res, err
	}
	m.logger.Info("tenant deleted", "tenant_id", id, "subdomain", t.Subdomain)
	return res, nil
}

// Resolve returns the tenant for subdomain, consulting the cache first. The
// relational store answers misses.
func (m *Manager) Resolve(ctx context.Context, subdomain string) (*store.Tenant, error) {
	sub := strings.ToLower(strings.TrimSpace(subdomain))
	if m.cache != nil {
		t, ok, err := m.cache.GetTenant(ctx, sub)
		if err != nil {
			m.logger.Warn("tenant cache read failed", "subdomain", sub, "error", err)
		} else if ok {
			return t, nil
		}
	}

	b := store.BackendRelational
	if m.relational == nil {
		b = store.BackendDocument
	}
	t, err := m.FindBySubdomain(ctx, sub, b)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.SetTenant(ctx, t); err != nil {
			m.logger.Warn("tenant cache write failed", "subdomain", sub, "error", err)
		}
	}
	return t, nil
}

// ResolveByID returns the tenant with the given id from the relational
// store, or the document store when no relational store is configured.
func (m *Manager) ResolveByID(ctx context.Context, id int64) (*store.Tenant, error) {
	b := store.BackendRelational
	if m.relational == nil {
		b = store.BackendDocument
	}
	return m.FindByID(ctx, id, b)
}

func (m *Manager) invalidate(ctx context.Context, subdomain string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, subdomain); err != nil {
		m.logger.Warn("tenant cache invalidate failed", "subdomain", subdomain, "error", err)
	}
}
