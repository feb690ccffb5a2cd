package billing

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/store"
)

// DefaultCurrency is the currency of every catalog plan.
const DefaultCurrency = "USD"

// PeriodEnd returns the end of a billing period starting at start: 30 days
// for monthly and 365 days for yearly cycles.
func PeriodEnd(start time.Time, cycle store.BillingCycle) time.Time {
	if cycle == store.BillingYearly {
		return start.AddDate(0, 0, 365)
	}
	return start.AddDate(0, 0, 30)
}

// CreateInput describes a new subscription. Zero values take the plan's
// defaults.
type CreateInput struct {
	TenantID     int64              `json:"tenant_id"`
	PlanType     store.PlanType     `json:"plan_type"`
	BillingCycle store.BillingCycle `json:"billing_cycle,omitempty"`
	TrialDays    int                `json:"trial_days,omitempty"`
}

// Patch holds optional subscription changes. Changing PlanType resets the
// plan-derived fields before the other changes apply.
type Patch struct {
	PlanType         *store.PlanType           `json:"plan_type,omitempty"`
	Status           *store.SubscriptionStatus `json:"status,omitempty"`
	BillingCycle     *store.BillingCycle       `json:"billing_cycle,omitempty"`
	Price            *float64                  `json:"price,omitempty"`
	MaxUsers         *int                      `json:"max_users,omitempty"`
	MaxStorage       *int64                    `json:"max_storage,omitempty"`
	Features         store.Features            `json:"features,omitempty"`
	CurrentPeriodEnd *time.Time                `json:"current_period_end,omitempty"`
}

// Manager creates, reads and changes subscriptions. Subscriptions live in
// the global scope; the relational store is the system of record.
type Manager struct {
	relational store.Provider
	document   store.Provider
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches a metrics collector.
func WithMetrics(mt *observability.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager creates a new Manager. document may be nil.
func NewManager(relational, document store.Provider, opts ...Option) *Manager {
	m := &Manager{relational: relational, document: document, now: store.Now}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *Manager) subscriptions(ctx context.Context, b store.Backend) (store.SubscriptionStore, error) {
	var p store.Provider
	switch b {
	case store.BackendRelational:
		p = m.relational
	case store.BackendDocument:
		p = m.document
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no %s subscription store", store.ErrUninitialized, b)
	}
	return p.Subscriptions(ctx, store.Global)
}

func (m *Manager) write(ctx context.Context, target store.Target, op string, fn func(store.SubscriptionStore) error) (*store.WriteResult, error) {
	if target == 0 {
		return nil, store.Validationf("empty write target")
	}
	res := &store.WriteResult{}
	primary := target.Primary()
	for _, b := range target.Backends() {
		ss, err := m.subscriptions(ctx, b)
		if err == nil {
			err = fn(ss)
		}
		m.metrics.RecordWrite("subscription", string(b), err)
		res.Record(b, store.Global, b == primary, err)
		if err == nil {
			continue
		}
		if b == primary {
			return res, err
		}
		m.logger.Warn("subscription mirror write failed", "op", op, "backend", b, "error", err)
	}
	if res.Degraded() {
		m.metrics.RecordDegraded("subscription")
	}
	return res, nil
}

// Create derives a subscription from the plan catalog and writes it.
func (m *Manager) Create(ctx context.Context, in CreateInput, target store.Target) (*store.Subscription, *store.WriteResult, error) {
	if in.TenantID <= 0 {
		return nil, nil, store.Validationf("tenant_id is required")
	}
	plan := PlanByType(in.PlanType)
	if plan == nil {
		return nil, nil, store.Validationf("invalid plan type %q", in.PlanType)
	}
	cycle := in.BillingCycle
	if cycle == "" {
		cycle = store.BillingMonthly
	}
	if !store.ValidBillingCycles[cycle] {
		return nil, nil, store.Validationf("invalid billing cycle %q", cycle)
	}
	if in.TrialDays < 0 {
		return nil, nil, store.Validationf("trial_days cannot be negative")
	}

	now := m.now()
	s := &store.Subscription{
		TenantID:           in.TenantID,
		PlanName:           plan.Name,
		PlanType:           plan.Type,
		Status:             store.SubscriptionActive,
		BillingCycle:       cycle,
		Price:              plan.Price,
		Currency:           DefaultCurrency,
		MaxUsers:           plan.MaxUsers,
		MaxStorage:         plan.MaxStorage,
		Features:           plan.Features,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   PeriodEnd(now, cycle),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.TrialDays > 0 {
		end := now.AddDate(0, 0, in.TrialDays)
		s.TrialEndsAt = &end
	}

	res, err := m.write(ctx, target, "create", func(ss store.SubscriptionStore) error {
		cp := s.Clone()
		if err := ss.Create(ctx, cp); err != nil {
			return err
		}
		s.ID = cp.ID
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	m.logger.Info("subscription created", "subscription_id", s.ID, "tenant_id", s.TenantID, "plan", s.PlanType)
	return s, res, nil
}

// FindByTenantID returns the tenant's most recent subscription.
func (m *Manager) FindByTenantID(ctx context.Context, tenantID int64, b store.Backend) (*store.Subscription, error) {
	ss, err := m.subscriptions(ctx, b)
	if err != nil {
		return nil, err
	}
	return ss.Latest(ctx, tenantID)
}

// FindByID looks a subscription up by id.
func (m *Manager) FindByID(ctx context.Context, id int64, b store.Backend) (*store.Subscription, error) {
	ss, err := m.subscriptions(ctx, b)
	if err != nil {
		return nil, err
	}
	return ss.Get(ctx, id)
}

// FindAll lists subscriptions, newest first.
func (m *Manager) FindAll(ctx context.Context, f store.SubscriptionFilter, b store.Backend) ([]*store.Subscription, error) {
	ss, err := m.subscriptions(ctx, b)
	if err != nil {
		return nil, err
	}
	return ss.List(ctx, f)
}

// CountActive counts active subscriptions in the relational store.
func (m *Manager) CountActive(ctx context.Context) (int64, error) {
	ss, err := m.subscriptions(ctx, store.BackendRelational)
	if err != nil {
		return 0, err
	}
	return ss.Count(ctx, store.SubscriptionFilter{Status: store.SubscriptionActive})
}

// Update applies p and writes the subscription to every store in target.
func (m *Manager) Update(ctx context.Context, id int64, p Patch, target store.Target) (*store.Subscription, *store.WriteResult, error) {
	var plan *Plan
	if p.PlanType != nil {
		if plan = PlanByType(*p.PlanType); plan == nil {
			return nil, nil, store.Validationf("invalid plan type %q", *p.PlanType)
		}
	}
	if p.Status != nil && !store.ValidSubscriptionStatuses[*p.Status] {
		return nil, nil, store.Validationf("invalid subscription status %q", *p.Status)
	}
	if p.BillingCycle != nil && !store.ValidBillingCycles[*p.BillingCycle] {
		return nil, nil, store.Validationf("invalid billing cycle %q", *p.BillingCycle)
	}
	return m.mutate(ctx, id, target, "update", func(s *store.Subscription) {
		if plan != nil {
			s.PlanName = plan.Name
			s.PlanType = plan.Type
			s.Price = plan.Price
			s.MaxUsers = plan.MaxUsers
			s.MaxStorage = plan.MaxStorage
			s.Features = plan.Features
		}
		if p.Status != nil {
			s.Status = *p.Status
		}
		if p.BillingCycle != nil {
			s.BillingCycle = *p.BillingCycle
		}
		if p.Price != nil {
			s.Price = *p.Price
		}
		if p.MaxUsers != nil {
			s.MaxUsers = *p.MaxUsers
		}
		if p.MaxStorage != nil {
			s.MaxStorage = *p.MaxStorage
		}
		if p.Features != nil {
			if s.Features == nil {
				s.Features = store.Features{}
			}
			maps.Copy(s.Features, p.Features)
		}
		if p.CurrentPeriodEnd != nil {
			s.CurrentPeriodEnd = p.CurrentPeriodEnd.UTC()
		}
	})
}

// Cancel marks the subscription cancelled as of now.
func (m *Manager) Cancel(ctx context.Context, id int64, target store.Target) (*store.Subscription, *store.WriteResult, error) {
	return m.mutate(ctx, id, target, "cancel", func(s *store.Subscription) {
		s.Status = store.SubscriptionCancelled
		at := s.UpdatedAt
		s.CancelledAt = &at
	})
}

func (m *Manager) mutate(ctx context.Context, id int64, target store.Target, op string, fn func(*store.Subscription)) (*store.Subscription, *store.WriteResult, error) {
	if target == 0 {
		return nil, nil, store.Validationf("empty write target")
	}
	s, err := m.FindByID(ctx, id, target.Primary())
	if err != nil {
		return nil, nil, err
	}
	s.UpdatedAt = m.now()
	fn(s)

	res, err := m.write(ctx, target, op, func(ss store.SubscriptionStore) error {
		return ss.Update(ctx, s)
	})
	if err != nil {
		return nil, res, err
	}
	return s, res, nil
}
