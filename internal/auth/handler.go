package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metta-portal/metta-portal/internal/observability"
	"github.com/metta-portal/metta-portal/internal/session"
	"github.com/metta-portal/metta-portal/internal/shared"
)

// Handler wires HTTP endpoints for authentication and session self-service.
// It owns the session cookie: the core only generates and consumes the
// opaque token value.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	sessions     *session.Manager
	metrics      *observability.Metrics
	cookieName   string
	secureCookie bool
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *session.Manager, metrics *observability.Metrics, cookieName string, secureCookie bool) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		sessions:     sessions,
		metrics:      metrics,
		cookieName:   cookieName,
		secureCookie: secureCookie,
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/logout-all", h.handleLogoutAll)
	r.Post("/register", h.handleRegister)
	r.Post("/password", h.handleChangePassword)
	r.Get("/session", h.handleSessionInfo)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	role, err := shared.ParseRole(r.PostFormValue("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	principal, sess, err := h.service.Login(r.Context(),
		r.PostFormValue("login"), r.PostFormValue("password"), role, metaFrom(r))
	h.metrics.ObserveLogin(err == nil)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "login unavailable")
		return
	}
	h.setCookie(w, sess.Token, h.sessions.Timeout())
	writeJSON(w, http.StatusOK, map[string]any{
		"role":         role.String(),
		"principal_id": principal.ID,
		"display_name": principal.DisplayName,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := h.tokenFrom(r)
	if err := h.service.Logout(r.Context(), token, metaFrom(r)); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	h.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ic := shared.IdentityFromContext(r.Context())
	if !ic.Authenticated {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	ended, err := h.service.LogoutAll(r.Context(), ic, metaFrom(r))
	if err != nil {
		h.logger.Error("logout all", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "logout unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ended": ended})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := DonatorRegistration{
		LoginName:   r.PostFormValue("login"),
		Email:       r.PostFormValue("email"),
		Password:    r.PostFormValue("password"),
		DisplayName: r.PostFormValue("display_name"),
	}
	id, err := h.service.RegisterDonator(r.Context(), form, metaFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrDuplicateIdentity):
			writeError(w, http.StatusConflict, "login name or email already registered")
		case errors.Is(err, shared.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, shared.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password too short")
		case shared.IsStoreError(err):
			h.logger.Error("register", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "registration unavailable")
		default:
			writeError(w, http.StatusBadRequest, "missing required fields")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"principal_id": id})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ic := shared.IdentityFromContext(r.Context())
	if !ic.Authenticated {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := h.service.ChangePassword(r.Context(), ic.Role, ic.PrincipalID,
		r.PostFormValue("current_password"), r.PostFormValue("new_password"), metaFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrPasswordMismatch):
			writeError(w, http.StatusForbidden, "current password mismatch")
		case errors.Is(err, shared.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password too short")
		case errors.Is(err, shared.ErrPrincipalNotFound):
			writeError(w, http.StatusNotFound, "principal not found")
		default:
			h.logger.Error("change password", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "password change unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSessionInfo backs the idle-timeout countdown in the UI. It reports
// remaining time without refreshing activity.
func (h *Handler) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	token := h.tokenFrom(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	remaining, err := h.sessions.RemainingTime(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":     true,
		"remaining_seconds": int64(remaining.Seconds()),
	})
}

// HandleTerminate force-ends an arbitrary session by token. Mounted behind
// the admin gate.
func (h *Handler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	token := r.PostFormValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if err := h.service.TerminateSession(r.Context(), shared.IdentityFromContext(r.Context()), token, metaFrom(r)); err != nil {
		h.logger.Error("terminate session", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "terminate unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) tokenFrom(r *http.Request) string {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) setCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(ttl),
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func metaFrom(r *http.Request) RequestMeta {
	return RequestMeta{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
