// Package api exposes tenants, users, subscriptions and sign-in over HTTP.
// Every response is a {success, message, data} JSON envelope.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/tenancy/auth"
	"github.com/GoCodeAlone/tenancy/billing"
	"github.com/GoCodeAlone/tenancy/observability"
	"github.com/GoCodeAlone/tenancy/observability/tracing"
	"github.com/GoCodeAlone/tenancy/provision"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/tenant"
	"github.com/GoCodeAlone/tenancy/user"
)

// Config holds configuration for the API layer.
type Config struct {
	// TenantTarget receives tenant and subscription changes.
	TenantTarget store.Target
	// UserTarget receives user changes.
	UserTarget store.Target

	// AuthRateLimit is the maximum number of requests per minute per IP
	// allowed on the register and login endpoints. Defaults to 10 when zero.
	AuthRateLimit int

	// FrontendURL receives the token after a Google sign-in as
	// <FrontendURL>/auth/success?token=... When empty the callback answers
	// with JSON.
	FrontendURL string
}

// Pinger reports whether the backing stores are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API. Auth, Google, Quotas and Health
// are optional.
type Deps struct {
	Tenants       *tenant.Manager
	Users         *user.Manager
	Subscriptions *billing.Manager
	Provisioner   *provision.Workflow
	Auth          *auth.Service
	Google        *auth.GoogleProvider
	Policy        *auth.Policy
	Quotas        *tenant.QuotaRegistry
	Health        Pinger
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Router is the API's http.Handler.
type Router struct {
	handler http.Handler
	mw      *Middleware
	quotas  *tenant.QuotaRegistry
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) { rt.handler.ServeHTTP(w, r) }

// Close stops background work started by the router.
func (rt *Router) Close() {
	rt.mw.Stop()
	if rt.quotas != nil {
		rt.quotas.Stop()
	}
}

// NewRouter creates the API handler with every route registered.
func NewRouter(deps Deps, cfg Config) *Router {
	if cfg.TenantTarget == 0 {
		cfg.TenantTarget = store.TargetRelational
	}
	if cfg.UserTarget == 0 {
		cfg.UserTarget = store.TargetDocument
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mw := NewMiddleware(deps.Auth, deps.Policy, deps.Metrics, logger)

	tenantMW := tenant.NewTenantIsolation(deps.Tenants).Process
	if deps.Quotas != nil {
		deps.Quotas.StartSweeper(tenant.QuotaSweepInterval, tenant.QuotaIdleTTL)
		quota := tenant.NewQuotaEnforcer(deps.Quotas).Process
		isolate := tenantMW
		tenantMW = func(next http.Handler) http.Handler { return isolate(quota(next)) }
	}
	admin := func(resource auth.Resource, action auth.Action, h http.HandlerFunc) http.Handler {
		return mw.RequireAuth(mw.RequirePermission(resource, action)(h))
	}

	// --- Tenants ---
	th := &tenantHandler{
		tenants: deps.Tenants, subs: deps.Subscriptions, users: deps.Users,
		provisioner: deps.Provisioner, target: cfg.TenantTarget, logger: logger,
	}
	mux.HandleFunc("POST /api/tenants/create", th.Create)
	mux.HandleFunc("GET /api/tenants", th.ListActive)
	mux.HandleFunc("GET /api/tenants/list", th.List)
	mux.HandleFunc("GET /api/tenants/by-subdomain/{subdomain}", th.GetBySubdomain)
	mux.HandleFunc("GET /api/tenants/{id}", th.Get)
	mux.Handle("GET /api/tenants/details", tenantMW(http.HandlerFunc(th.Details)))
	mux.Handle("PUT /api/tenants/settings", tenantMW(http.HandlerFunc(th.UpdateSettings)))
	mux.Handle("GET /api/tenants/stats", tenantMW(http.HandlerFunc(th.Stats)))
	mux.Handle("POST /api/tenants/{id}/suspend", admin(auth.ResourceTenants, auth.ActionAdmin, th.Suspend))
	mux.Handle("POST /api/tenants/{id}/activate", admin(auth.ResourceTenants, auth.ActionAdmin, th.Activate))
	mux.Handle("DELETE /api/tenants/{id}", admin(auth.ResourceTenants, auth.ActionDelete, th.Delete))

	// --- Users ---
	uh := &userHandler{users: deps.Users, subs: deps.Subscriptions, target: cfg.UserTarget, logger: logger}
	mux.Handle("GET /api/users", tenantMW(http.HandlerFunc(uh.List)))
	mux.Handle("POST /api/users", tenantMW(http.HandlerFunc(uh.Create)))
	mux.Handle("GET /api/users/{id}", tenantMW(http.HandlerFunc(uh.Get)))
	mux.Handle("PUT /api/users/{id}", tenantMW(http.HandlerFunc(uh.Update)))
	mux.Handle("DELETE /api/users/{id}", tenantMW(http.HandlerFunc(uh.Delete)))

	// --- Subscriptions ---
	sh := &subscriptionHandler{subs: deps.Subscriptions, target: cfg.TenantTarget, logger: logger}
	mux.HandleFunc("GET /api/subscriptions/plans", sh.Plans)
	mux.Handle("GET /api/subscriptions/current", tenantMW(http.HandlerFunc(sh.Current)))
	mux.Handle("PUT /api/subscriptions/{id}", admin(auth.ResourceSubscriptions, auth.ActionWrite, sh.Update))
	mux.Handle("POST /api/subscriptions/{id}/cancel", admin(auth.ResourceSubscriptions, auth.ActionWrite, sh.Cancel))

	// --- Auth ---
	if deps.Auth != nil {
		ah := &authHandler{svc: deps.Auth, google: deps.Google, frontendURL: cfg.FrontendURL, logger: logger}
		authRL := mw.RateLimit(cfg.AuthRateLimit)
		enforce := billing.NewEnforcementMiddleware(deps.Subscriptions, deps.Users, func(r *http.Request) int64 {
			return tenant.TenantFromContext(r.Context())
		})
		mux.Handle("POST /auth/register", authRL(tenantMW(enforce.Wrap(http.HandlerFunc(ah.Register)))))
		mux.Handle("POST /auth/login", authRL(http.HandlerFunc(ah.Login)))
		mux.HandleFunc("POST /auth/logout", ah.Logout)
		mux.Handle("GET /auth/me", mw.RequireAuth(http.HandlerFunc(ah.Me)))
		if deps.Google != nil {
			mux.HandleFunc("GET /auth/google", ah.Google)
			mux.HandleFunc("GET /auth/google/callback", ah.GoogleCallback)
		}
	}

	// --- Operations ---
	mux.HandleFunc("GET /healthz", healthHandler(deps.Health))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	return &Router{handler: mw.RequestID(tracing.SpanMiddleware(mw.Instrument(mux))), mw: mw, quotas: deps.Quotas}
}
