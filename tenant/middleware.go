package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/tenancy/store"
)

type contextKey string

const (
	// TenantIDKey is the context key for the tenant ID.
	TenantIDKey contextKey = "tenant_id"

	// TenantHeaderName is the default HTTP header for the tenant ID.
	TenantHeaderName = "X-Tenant-ID"
)

// TenantFromContext extracts the tenant ID from the context, defaulting to
// the reserved default tenant.
func TenantFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(TenantIDKey).(int64); ok && v > 0 {
		return v
	}
	return store.DefaultTenantID
}

// ContextWithTenant returns a context with the tenant ID set.
func ContextWithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// Resolver finds the tenant named by a request header, by subdomain or by
// ID. Manager implements it.
type Resolver interface {
	Resolve(ctx context.Context, subdomain string) (*store.Tenant, error)
	ResolveByID(ctx context.Context, id int64) (*store.Tenant, error)
}

// TenantIsolation is an HTTP middleware that reads the tenant from the
// request header and injects its ID into the request context. The header
// carries either a numeric tenant ID or a subdomain. Both must name an
// existing tenant that is not suspended; without a Resolver the header is
// rejected. Requests without the header run as the default tenant.
type TenantIsolation struct {
	HeaderName     string
	AllowedTenants map[int64]bool // nil means all tenants are allowed
	Resolver       Resolver
}

// NewTenantIsolation creates a new tenant isolation middleware.
func NewTenantIsolation(resolver Resolver) *TenantIsolation {
	return &TenantIsolation{
		HeaderName: TenantHeaderName,
		Resolver:   resolver,
	}
}

// SetAllowedTenants configures the set of allowed tenant IDs.
func (t *TenantIsolation) SetAllowedTenants(tenants []int64) {
	t.AllowedTenants = make(map[int64]bool, len(tenants))
	for _, id := range tenants {
		t.AllowedTenants[id] = true
	}
}

// Process wraps an HTTP handler with tenant isolation.
func (t *TenantIsolation) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(t.HeaderName))
		tenantID := store.DefaultTenantID

		if raw != "" {
			id, status, msg := t.lookup(r.Context(), raw)
			if status != 0 {
				writeJSON(w, status, map[string]any{"success": false, "message": msg})
				return
			}
			tenantID = id
		}

		if t.AllowedTenants != nil && !t.AllowedTenants[tenantID] {
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "tenant not allowed"})
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithTenant(r.Context(), tenantID)))
	})
}

// lookup returns the tenant ID for a header value, or an HTTP status and
// message when the request must be rejected.
func (t *TenantIsolation) lookup(ctx context.Context, raw string) (int64, int, string) {
	id, numErr := strconv.ParseInt(raw, 10, 64)
	if numErr == nil && id < 1 {
		return 0, http.StatusBadRequest, "invalid tenant ID " + raw
	}
	if t.Resolver == nil {
		return 0, http.StatusBadRequest, "invalid tenant ID " + raw
	}

	var (
		tn  *store.Tenant
		err error
	)
	if numErr == nil {
		tn, err = t.Resolver.ResolveByID(ctx, id)
	} else {
		tn, err = t.Resolver.Resolve(ctx, raw)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return 0, http.StatusNotFound, "tenant not found"
	case err != nil:
		return 0, http.StatusInternalServerError, "tenant lookup failed"
	case tn.Status == store.TenantStatusSuspended:
		return 0, http.StatusForbidden, "tenant suspended"
	}
	return tn.ID, 0, ""
}

// QuotaEnforcer is an HTTP middleware that enforces per-tenant request rates
// using the QuotaRegistry.
type QuotaEnforcer struct {
	Registry *QuotaRegistry
}

// NewQuotaEnforcer creates a new quota enforcer middleware.
func NewQuotaEnforcer(registry *QuotaRegistry) *QuotaEnforcer {
	return &QuotaEnforcer{Registry: registry}
}

// Process wraps an HTTP handler with quota enforcement. TenantIsolation must
// run first.
func (q *QuotaEnforcer) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := q.Registry.CheckAPIRate(TenantFromContext(r.Context())); err != nil {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "message": err.Error()})
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
