package app_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/metta-portal/metta-portal/internal/app"
	"github.com/metta-portal/metta-portal/internal/session"
	"github.com/metta-portal/metta-portal/internal/shared"
	_ "github.com/metta-portal/metta-portal/testing"
)

type alwaysActive struct{}

func (alwaysActive) IsActive(ctx context.Context, role shared.Role, principalID int64) (bool, error) {
	return true, nil
}

func newStack(t *testing.T) (http.Handler, *session.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := session.NewManager(session.NewRedisStore(client), alwaysActive{}, slog.Default(), time.Hour, 24*time.Hour)

	r := chi.NewRouter()
	for _, mw := range app.MiddlewareStack(app.MiddlewareConfig{
		Logger:   slog.Default(),
		Config:   &app.Config{SessionCookie: "metta_session", AppRequestTimeout: 5 * time.Second},
		Sessions: sessions,
	}) {
		r.Use(mw)
	}
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		ic := shared.IdentityFromContext(r.Context())
		if !ic.Authenticated {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(ic.Role.String()))
	})
	return r, sessions
}

func TestIdentityMiddlewareAnonymousWithoutCookie(t *testing.T) {
	router, _ := newStack(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "anonymous", res.Body.String())
}

func TestIdentityMiddlewareThreadsValidSession(t *testing.T) {
	router, sessions := newStack(t)
	sess, err := sessions.Create(context.Background(), shared.RoleMonk, 3, "", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "metta_session", Value: sess.Token})
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "monk", res.Body.String())
}

func TestIdentityMiddlewareClearsDeadCookie(t *testing.T) {
	router, _ := newStack(t)

	token, err := session.NewToken()
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "metta_session", Value: token})
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "anonymous", res.Body.String())
	var cleared bool
	for _, c := range res.Result().Cookies() {
		if c.Name == "metta_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared, "expected dead session cookie to be cleared")
}
