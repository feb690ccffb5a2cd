package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/GoCodeAlone/tenancy/billing"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/tenant"
	"github.com/GoCodeAlone/tenancy/user"
)

// maxUserList caps GET /api/users.
const maxUserList = 100

type userHandler struct {
	users  *user.Manager
	subs   *billing.Manager
	target store.Target
	logger *slog.Logger
}

func (h *userHandler) backend() store.Backend { return user.PrimaryBackend(h.target) }

// List handles GET /api/users. all_tenants=true lists every tenant's users;
// tenant_id overrides the request's tenant.
func (h *userHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := user.Filter{
		TenantID:   tenant.TenantFromContext(r.Context()),
		Role:       store.UserRole(q.Get("role")),
		Status:     store.UserStatus(q.Get("status")),
		Pagination: store.Pagination{Limit: maxUserList},
	}
	switch {
	case q.Get("all_tenants") == "true":
		f.AllTenants = true
	case q.Get("tenant_id") != "":
		id, err := strconv.ParseInt(q.Get("tenant_id"), 10, 64)
		if err != nil || id < 1 {
			writeErr(w, r, h.logger, store.Validationf("invalid tenant_id %q", q.Get("tenant_id")))
			return
		}
		f.TenantID = id
	}
	users, err := h.users.FindAll(r.Context(), f, h.backend())
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, orEmpty(users))
}

// Create handles POST /api/users. The body's tenant_id, when set, overrides
// the request's tenant. The tenant's plan limit is checked first.
func (h *userHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in user.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if in.TenantID <= 0 {
		in.TenantID = tenant.TenantFromContext(r.Context())
	}
	if err := billing.CheckUserLimit(r.Context(), h.subs, h.users, in.TenantID); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	u, _, err := h.users.Create(r.Context(), in, h.target)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, u)
}

// Get handles GET /api/users/{id}.
func (h *userHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.FindByID(r.Context(), r.PathValue("id"), tenant.TenantFromContext(r.Context()), h.backend())
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

// Update handles PUT /api/users/{id}.
func (h *userHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p user.Patch
	if err := decodeJSON(r, &p); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	tenantID := tenant.TenantFromContext(r.Context())
	if _, err := h.users.FindByID(r.Context(), r.PathValue("id"), tenantID, h.backend()); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	u, _, err := h.users.Update(r.Context(), r.PathValue("id"), tenantID, p, h.target)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

// Delete handles DELETE /api/users/{id}.
func (h *userHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.TenantFromContext(r.Context())
	if _, err := h.users.FindByID(r.Context(), r.PathValue("id"), tenantID, h.backend()); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if _, err := h.users.Delete(r.Context(), r.PathValue("id"), tenantID, h.target); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusOK, "User deleted successfully", nil)
}
