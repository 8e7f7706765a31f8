package gate

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// Middleware wires role gating into HTTP routing.
type Middleware struct {
	Logger *slog.Logger
}

// RequireRole ensures the caller holds a valid session with the given role.
// Anonymous callers are sent to the login page; wrong-role callers get 403.
func (m Middleware) RequireRole(role shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ic := shared.IdentityFromContext(r.Context())
			if err := RequireRole(ic, role); err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the caller holds a valid session with any listed role.
func (m Middleware) RequireAny(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ic := shared.IdentityFromContext(r.Context())
			if err := RequireAny(ic, roles...); err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, shared.ErrNotAuthenticated) {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	if m.Logger != nil {
		m.Logger.Warn("role denied",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}
