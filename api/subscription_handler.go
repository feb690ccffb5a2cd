package api

import (
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/tenancy/billing"
	"github.com/GoCodeAlone/tenancy/store"
	"github.com/GoCodeAlone/tenancy/tenant"
)

type subscriptionHandler struct {
	subs   *billing.Manager
	target store.Target
	logger *slog.Logger
}

// Plans handles GET /api/subscriptions/plans.
func (h *subscriptionHandler) Plans(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, billing.AllPlans)
}

// Current handles GET /api/subscriptions/current for the request's tenant.
func (h *subscriptionHandler) Current(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.FindByTenantID(r.Context(), tenant.TenantFromContext(r.Context()), h.target.Primary())
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	now := store.Now()
	WriteJSON(w, http.StatusOK, map[string]any{
		"subscription": sub,
		"is_active":    sub.IsActive(now),
		"is_trial":     sub.IsInTrial(now),
	})
}

// Update handles PUT /api/subscriptions/{id}.
func (h *subscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	var p billing.Patch
	if err := decodeJSON(r, &p); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	sub, _, err := h.subs.Update(r.Context(), id, p, h.target)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, sub)
}

// Cancel handles POST /api/subscriptions/{id}/cancel.
func (h *subscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	sub, _, err := h.subs.Cancel(r.Context(), id, h.target)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusOK, "Subscription cancelled", sub)
}
