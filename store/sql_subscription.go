package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const subscriptionColumns = `id, tenant_id, plan_name, plan_type, status, billing_cycle, price, currency,
	max_users, max_storage, features, trial_ends_at, current_period_start, current_period_end,
	cancelled_at, created_at, updated_at`

// SQLSubscriptionStore implements SubscriptionStore on a relational database.
type SQLSubscriptionStore struct {
	db *sqlx.DB
}

// NewSQLSubscriptionStore creates a new SQLSubscriptionStore.
func NewSQLSubscriptionStore(db *sqlx.DB) *SQLSubscriptionStore {
	return &SQLSubscriptionStore{db: db}
}

func (s *SQLSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	if sub.ID != 0 {
		return execOne(ctx, s.db, "create subscription", `
			INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.TenantID, sub.PlanName, sub.PlanType, sub.Status, sub.BillingCycle, sub.Price, sub.Currency,
			sub.MaxUsers, sub.MaxStorage, sub.Features, sub.TrialEndsAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
			sub.CancelledAt, sub.CreatedAt, sub.UpdatedAt)
	}
	id, err := insertReturningID(ctx, s.db, "create subscription", `
		INSERT INTO subscriptions (tenant_id, plan_name, plan_type, status, billing_cycle, price, currency,
			max_users, max_storage, features, trial_ends_at, current_period_start, current_period_end,
			cancelled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.TenantID, sub.PlanName, sub.PlanType, sub.Status, sub.BillingCycle, sub.Price, sub.Currency,
		sub.MaxUsers, sub.MaxStorage, sub.Features, sub.TrialEndsAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelledAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return err
	}
	sub.ID = id
	return nil
}

func (s *SQLSubscriptionStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	var sub Subscription
	if err := getOne(ctx, s.db, &sub, "get subscription", `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SQLSubscriptionStore) Latest(ctx context.Context, tenantID int64) (*Subscription, error) {
	var sub Subscription
	err := getOne(ctx, s.db, &sub, "get subscription", `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, tenantID)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SQLSubscriptionStore) Update(ctx context.Context, sub *Subscription) error {
	return execOne(ctx, s.db, "update subscription", `
		UPDATE subscriptions SET plan_name = ?, plan_type = ?, status = ?, billing_cycle = ?, price = ?,
			currency = ?, max_users = ?, max_storage = ?, features = ?, trial_ends_at = ?,
			current_period_start = ?, current_period_end = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?`,
		sub.PlanName, sub.PlanType, sub.Status, sub.BillingCycle, sub.Price,
		sub.Currency, sub.MaxUsers, sub.MaxStorage, sub.Features, sub.TrialEndsAt,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelledAt, sub.UpdatedAt, sub.ID)
}

func (s *SQLSubscriptionStore) List(ctx context.Context, f SubscriptionFilter) ([]*Subscription, error) {
	where := subscriptionWhere(f)
	query := fmt.Sprintf(`SELECT %s FROM subscriptions%s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, subscriptionColumns, where)
	args := append(where.args, f.Pagination.limit(), f.Pagination.Offset)

	var subs []*Subscription
	if err := s.db.SelectContext(ctx, &subs, s.db.Rebind(query), args...); err != nil {
		return nil, opError(BackendRelational, "list subscriptions", err)
	}
	return subs, nil
}

func (s *SQLSubscriptionStore) Count(ctx context.Context, f SubscriptionFilter) (int64, error) {
	where := subscriptionWhere(f)
	return count(ctx, s.db, "count subscriptions", `SELECT COUNT(*) FROM subscriptions`+where.String(), where.args...)
}

func subscriptionWhere(f SubscriptionFilter) *whereClause {
	w := &whereClause{}
	if f.TenantID > 0 {
		w.add("tenant_id = ?", f.TenantID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.PlanType != "" {
		w.add("plan_type = ?", f.PlanType)
	}
	return w
}
