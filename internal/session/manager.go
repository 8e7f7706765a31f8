package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// PrincipalDirectory answers whether a principal is still active. The
// manager re-checks this flag on every validated request so deactivation
// takes effect on the next click, not the next login.
type PrincipalDirectory interface {
	IsActive(ctx context.Context, role shared.Role, principalID int64) (bool, error)
}

// Manager owns the session lifecycle: minting, per-request validation,
// expiry, and termination. It never hands access out on an infrastructure
// failure; store errors during validation read as an invalid session.
type Manager struct {
	store     Store
	directory PrincipalDirectory
	logger    *slog.Logger
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewManager constructs a Manager. retention bounds how long ended rows are
// kept before PurgeEnded removes them.
func NewManager(store Store, directory PrincipalDirectory, logger *slog.Logger, timeout, retention time.Duration) *Manager {
	return &Manager{
		store:     store,
		directory: directory,
		logger:    logger,
		timeout:   timeout,
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides time acquisition, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Timeout exposes the configured idle timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Create mints a fresh token and inserts the session row.
func (m *Manager) Create(ctx context.Context, role shared.Role, principalID int64, ip, userAgent string) (Session, error) {
	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	sess := Session{
		Token:        token,
		Role:         role,
		PrincipalID:  principalID,
		IP:           ip,
		UserAgent:    userAgent,
		LoginAt:      now,
		LastActivity: now,
		Active:       true,
	}
	if err := m.store.Insert(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Validate is the per-request gate. An absent token yields an anonymous
// identity with no error; anything else that fails yields ErrSessionInvalid
// or ErrSessionExpired. On success last-activity is refreshed. Two
// concurrent validations of one token race on that refresh; last write
// wins, which is acceptable because nothing depends on its ordering beyond
// staleness detection.
func (m *Manager) Validate(ctx context.Context, token string) (shared.IdentityContext, error) {
	if token == "" {
		return shared.Anonymous(), nil
	}
	if !ValidTokenShape(token) {
		return shared.Anonymous(), shared.ErrSessionInvalid
	}
	sess, err := m.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Anonymous(), shared.ErrSessionInvalid
		}
		return m.failClosed("load session", err)
	}
	if !sess.Active {
		return shared.Anonymous(), shared.ErrSessionInvalid
	}
	now := m.now().UTC()
	idle := now.Sub(sess.LastActivity)
	if idle > m.timeout {
		if err := m.store.End(ctx, token, EndedExpired, now); err != nil {
			m.logger.Warn("expire session", slog.Any("error", err))
		}
		return shared.Anonymous(), shared.ErrSessionExpired
	}
	active, err := m.directory.IsActive(ctx, sess.Role, sess.PrincipalID)
	if err != nil {
		return m.failClosed("check principal", err)
	}
	if !active {
		if err := m.store.End(ctx, token, EndedDeactivated, now); err != nil {
			m.logger.Warn("deactivate session", slog.Any("error", err))
		}
		return shared.Anonymous(), shared.ErrSessionInvalid
	}
	if err := m.store.Touch(ctx, token, now); err != nil {
		return m.failClosed("touch session", err)
	}
	return shared.IdentityContext{
		Authenticated: true,
		Role:          sess.Role,
		PrincipalID:   sess.PrincipalID,
		SessionToken:  token,
		Remaining:     m.timeout,
	}, nil
}

// RemainingTime reports how long the session has before idle expiry without
// refreshing its activity, for countdown displays.
func (m *Manager) RemainingTime(ctx context.Context, token string) (time.Duration, error) {
	sess, err := m.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, shared.ErrSessionInvalid
		}
		return 0, err
	}
	if !sess.Active {
		return 0, shared.ErrSessionInvalid
	}
	remaining := m.timeout - m.now().UTC().Sub(sess.LastActivity)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// End transitions the session to an inactive state. Ending a missing or
// already-ended session is a no-op so logout stays idempotent.
func (m *Manager) End(ctx context.Context, token string, reason EndReason) error {
	if token == "" {
		return nil
	}
	return m.store.End(ctx, token, reason, m.now().UTC())
}

// Terminate is the administrative kill switch for one session.
func (m *Manager) Terminate(ctx context.Context, token string) error {
	return m.End(ctx, token, EndedAdminTerminated)
}

// TerminateOthers ends every other session held by the principal, keeping
// only keepToken. Used for "log out everywhere" and forced deactivation.
func (m *Manager) TerminateOthers(ctx context.Context, role shared.Role, principalID int64, keepToken string, reason EndReason) (int64, error) {
	return m.store.EndOthers(ctx, role, principalID, keepToken, reason, m.now().UTC())
}

// SweepExpired bulk-expires rows that idled past the timeout. It only ever
// marks rows inactive, so it is idempotent and safe to run concurrently
// with Validate or after a crash.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	now := m.now().UTC()
	return m.store.SweepExpired(ctx, now.Add(-m.timeout), now)
}

// PurgeEnded hard-deletes inactive rows older than the retention window.
func (m *Manager) PurgeEnded(ctx context.Context) (int64, error) {
	return m.store.PurgeEnded(ctx, m.now().UTC().Add(-m.retention))
}

func (m *Manager) failClosed(op string, err error) (shared.IdentityContext, error) {
	m.logger.Error("session validation failed closed", slog.String("op", op), slog.Any("error", err))
	return shared.Anonymous(), shared.ErrSessionInvalid
}
