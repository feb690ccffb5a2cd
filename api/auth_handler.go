package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/GoCodeAlone/tenancy/auth"
	"github.com/GoCodeAlone/tenancy/tenant"
)

const oauthStateCookie = "oauth_state"

type authHandler struct {
	svc         *auth.Service
	google      *auth.GoogleProvider
	frontendURL string
	logger      *slog.Logger
}

// Register handles POST /auth/register. The user joins the request's tenant.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	in.TenantID = tenant.TenantFromContext(r.Context())
	s, err := h.svc.Register(r.Context(), in)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusCreated, "User registered successfully", s)
}

// Login handles POST /auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"` //nolint:gosec // G117: request field
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	s, err := h.svc.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	WriteMessage(w, http.StatusOK, "Login successful", s)
}

// Logout handles POST /auth/logout. Tokens are stateless; clients drop them.
func (h *authHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	WriteMessage(w, http.StatusOK, "Logged out successfully", nil)
}

// Me handles GET /auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, UserFromContext(r.Context()))
}

// Google handles GET /auth/google by redirecting to Google's consent page.
func (h *authHandler) Google(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.google.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback handles GET /auth/google/callback.
func (h *authHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		WriteError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/", MaxAge: -1})

	profile, err := h.google.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Warn("google sign-in failed", "error", err)
		WriteError(w, http.StatusUnauthorized, "google sign-in failed")
		return
	}
	s, err := h.svc.LinkGoogle(r.Context(), *profile)
	if err != nil {
		writeErr(w, r, h.logger, err)
		return
	}
	if h.frontendURL == "" {
		WriteMessage(w, http.StatusOK, "Login successful", s)
		return
	}
	target := strings.TrimRight(h.frontendURL, "/") + "/auth/success?token=" + url.QueryEscape(s.Token)
	http.Redirect(w, r, target, http.StatusFound)
}
