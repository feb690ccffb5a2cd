package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"

	"github.com/GoCodeAlone/tenancy/billing"
	"github.com/GoCodeAlone/tenancy/provision"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/tenant"
	"github.com/GoCodeAlone/tenancy/user"
)

type tenantHandler struct {
	tenants     *tenant.Manager
	subs        *billing.Manager
	users       *user.Manager
	provisioner *provision.Workflow
	target      store.Target
	logger      *slog.Logger
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, store.Validationf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, store.Validationf("invalid %s %q", key, raw)
	}
	return n, nil
}

// maxPageLimit caps the page size of list endpoints.
const maxPageLimit = 100

// pageWindow reads page and limit from the query. limit is capped at
// maxPageLimit; a page whose offset does not fit in an int is rejected.
func pageWindow(r *http.Request) (page, limit int, err error) {
	if page, err = queryInt(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit", 10); err != nil {
		return 0, 0, err
	}
	limit = min(limit, maxPageLimit)
	if page-1 > math.MaxInt32/limit {
		return 0, 0, store.Validationf("page %d out of range", page)
	}
	return page, limit, nil
}

// Create handles POST /api/tenants/create by provisioning a new tenant.
func (h *tenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req provision.Request
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	res, err := h.provisioner.Provision(r.Context(), req)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusCreated, "Tenant created successfully", map[string]any{
		"tenant":       res.Tenant,
		"subscription": res.Subscription,
	})
}

// ListActive handles GET /api/tenants: active tenants, oldest first.
func (h *tenantHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.FindAll(r.Context(), store.TenantFilter{
		Status:     store.TenantStatusActive,
		Pagination: store.Pagination{Limit: 1000},
	}, store.BackendRelational)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	slices.Reverse(tenants)
	WriteJSON(w, http.StatusOK, orEmpty(tenants))
}

// List handles GET /api/tenants/list?page=&limit=&status=. status=all lists
// every status. At most 100 tenants are returned per page.
func (h *tenantHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageWindow(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	status := store.TenantStatus(r.URL.Query().Get("status"))
	switch {
	case status == "":
		status = store.TenantStatusActive
	case status == "all":
		status = ""
	case !store.ValidTenantStatuses[status]:
		writeErr(w, r, h.logger, store.Validationf("invalid tenant status %q", status))
		return
	}

	f := store.TenantFilter{Status: status, Pagination: store.Pagination{Offset: (page - 1) * limit, Limit: limit}}
	tenants, err := h.tenants.FindAll(r.Context(), f, store.BackendRelational)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	total, err := h.tenants.Count(r.Context(), store.TenantFilter{Status: status}, store.BackendRelational)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"tenants":    orEmpty(tenants),
		"pagination": newPagination(page, limit, total),
	})
}

// Get handles GET /api/tenants/{id}.
func (h *tenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	t, err := h.tenants.FindByID(r.Context(), id, store.BackendRelational)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// GetBySubdomain handles GET /api/tenants/by-subdomain/{subdomain}.
func (h *tenantHandler) GetBySubdomain(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenants.Resolve(r.Context(), r.PathValue("subdomain"))
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// currentTenant loads the tenant selected by the tenant middleware.
func (h *tenantHandler) currentTenant(r *http.Request) (*store.Tenant, error) {
	return h.tenants.FindByID(r.Context(), tenant.TenantFromContext(r.Context()), store.BackendRelational)
}

// currentSubscription returns the tenant's latest subscription, or nil.
func (h *tenantHandler) currentSubscription(r *http.Request, tenantID int64) (*store.Subscription, error) {
	sub, err := h.subs.FindByTenantID(r.Context(), tenantID, store.BackendRelational)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

// Details handles GET /api/tenants/details.
func (h *tenantHandler) Details(w http.ResponseWriter, r *http.Request) {
	t, err := h.currentTenant(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	sub, err := h.currentSubscription(r, t.ID)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tenant": t, "subscription": sub})
}

// UpdateSettings handles PUT /api/tenants/settings, merging the given keys
// into the current tenant's settings.
func (h *tenantHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Settings store.Settings `json:"settings"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if body.Settings == nil {
		writeErr(w, r, h.logger, store.Validationf("settings object is required"))
		return
	}
	t, _, err := h.tenants.Update(r.Context(), tenant.TenantFromContext(r.Context()), tenant.Patch{Settings: body.Settings}, h.target)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusOK, "Tenant settings updated successfully", map[string]any{"settings": t.Settings})
}

// Stats handles GET /api/tenants/stats.
func (h *tenantHandler) Stats(w http.ResponseWriter, r *http.Request) {
	t, err := h.currentTenant(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	sub, err := h.currentSubscription(r, t.ID)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	count, err := h.users.Count(r.Context(), t.ID, store.BackendDocument)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}

	limit, remaining := 0, int64(-1)
	subStats := map[string]any{"plan": "unknown", "status": "inactive", "expires": nil, "is_trial": false}
	if sub != nil {
		limit = sub.MaxUsers
		if limit > 0 {
			remaining = max(0, int64(limit)-count)
		}
		now := store.Now()
		subStats = map[string]any{
			"plan":     sub.PlanType,
			"status":   sub.Status,
			"expires":  sub.CurrentPeriodEnd,
			"is_trial": sub.IsInTrial(now),
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"users":        map[string]any{"total": count, "limit": limit, "remaining": remaining},
		"subscription": subStats,
		"tenant": map[string]any{
			"status":    t.Status,
			"created":   t.CreatedAt,
			"subdomain": t.Subdomain,
		},
	})
}

// Suspend handles POST /api/tenants/{id}/suspend with an optional
// {"reason": "..."} body.
func (h *tenantHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, r, h.logger, err)
			return
		}
	}
	t, _, err := h.tenants.Suspend(r.Context(), id, body.Reason, h.target)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusOK, "Tenant suspended successfully", t)
}

// Activate handles POST /api/tenants/{id}/activate.
func (h *tenantHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	t, _, err := h.tenants.Activate(r.Context(), id, h.target)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusOK, "Tenant reactivated successfully", t)
}

// Delete handles DELETE /api/tenants/{id}.
func (h *tenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if _, err := h.tenants.Delete(r.Context(), id, h.target); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusOK, "Tenant deleted successfully", nil)
}

// orEmpty keeps empty lists encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
