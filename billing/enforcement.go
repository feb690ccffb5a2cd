package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GoCodeAlone/tenancy/store"
)

// ErrLimitExceeded is returned by CheckUserLimit when a tenant has as many
// users as its plan allows.
var ErrLimitExceeded = billingError("user limit exceeded for current plan")

type billingError string

func (e billingError) Error() string { return string(e) }

// SubscriptionFinder returns a tenant's current subscription.
type SubscriptionFinder interface {
	FindByTenantID(ctx context.Context, tenantID int64, b store.Backend) (*store.Subscription, error)
}

// UserCounter counts a tenant's users.
type UserCounter interface {
	Count(ctx context.Context, tenantID int64, b store.Backend) (int64, error)
}

// CheckUserLimit returns ErrLimitExceeded when the tenant's user count has
// reached the max_users of its current subscription. Tenants without a
// subscription or with an inactive one are not limited here.
func CheckUserLimit(ctx context.Context, subs SubscriptionFinder, users UserCounter, tenantID int64) error {
	sub, err := subs.FindByTenantID(ctx, tenantID, store.BackendRelational)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != store.SubscriptionActive || sub.UnlimitedUsers() {
		return nil
	}
	n, err := users.Count(ctx, tenantID, store.BackendDocument)
	if err != nil {
		return err
	}
	if n >= int64(sub.MaxUsers) {
		return ErrLimitExceeded
	}
	return nil
}

// TenantIDFunc extracts a tenant ID from an incoming HTTP request.
type TenantIDFunc func(r *http.Request) int64

// EnforcementMiddleware rejects requests from tenants that are at their
// plan's user limit. It wraps user-creating routes.
type EnforcementMiddleware struct {
	subs        SubscriptionFinder
	users       UserCounter
	getTenantID TenantIDFunc
}

// NewEnforcementMiddleware creates an EnforcementMiddleware.
func NewEnforcementMiddleware(subs SubscriptionFinder, users UserCounter, getTenantID TenantIDFunc) *EnforcementMiddleware {
	return &EnforcementMiddleware{subs: subs, users: users, getTenantID: getTenantID}
}

// Wrap returns an http.Handler that enforces the tenant's user limit before
// delegating to next.
func (m *EnforcementMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := CheckUserLimit(r.Context(), m.subs, m.users, m.getTenantID(r))
		switch {
		case errors.Is(err, ErrLimitExceeded):
			writeJSON(w, http.StatusPaymentRequired, map[string]any{"success": false, "message": err.Error()})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "billing enforcement error"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
