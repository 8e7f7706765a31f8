package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/metta-portal/metta-portal/internal/auth"
	"github.com/metta-portal/metta-portal/internal/gate"
	"github.com/metta-portal/metta-portal/internal/observability"
	"github.com/metta-portal/metta-portal/internal/session"
	"github.com/metta-portal/metta-portal/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	Sessions    *session.Manager
	AuthHandler *auth.Handler
	Gate        gate.Middleware
	Metrics     *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults. Every request
// passes session validation before any role gate is evaluated.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Sessions: params.Sessions,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", func(ar chi.Router) {
		ar.Use(LoginRateLimiter(params.Config))
		params.AuthHandler.MountRoutes(ar)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(params.Gate.RequireRole(shared.RoleAdmin))
		admin.Post("/sessions/terminate", params.AuthHandler.HandleTerminate)
	})

	return r
}
