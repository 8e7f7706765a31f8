package session_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metta-portal/metta-portal/internal/session"
	"github.com/metta-portal/metta-portal/internal/shared"
)

type memoryStore struct {
	mu   sync.Mutex
	rows map[string]session.Session
	fail error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]session.Session)}
}

func (s *memoryStore) Insert(ctx context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.rows[sess.Token] = sess
	return nil
}

func (s *memoryStore) Get(ctx context.Context, token string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return session.Session{}, s.fail
	}
	sess, ok := s.rows[token]
	if !ok {
		return session.Session{}, shared.ErrNotFound
	}
	return sess, nil
}

func (s *memoryStore) Touch(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	sess, ok := s.rows[token]
	if !ok || !sess.Active {
		return nil
	}
	sess.LastActivity = at
	s.rows[token] = sess
	return nil
}

func (s *memoryStore) End(ctx context.Context, token string, reason session.EndReason, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	sess, ok := s.rows[token]
	if !ok || !sess.Active {
		return nil
	}
	sess.Active = false
	sess.EndedReason = reason
	sess.LastActivity = at
	s.rows[token] = sess
	return nil
}

func (s *memoryStore) EndOthers(ctx context.Context, role shared.Role, principalID int64, keepToken string, reason session.EndReason, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var ended int64
	for token, sess := range s.rows {
		if token == keepToken || sess.Role != role || sess.PrincipalID != principalID || !sess.Active {
			continue
		}
		sess.Active = false
		sess.EndedReason = reason
		sess.LastActivity = at
		s.rows[token] = sess
		ended++
	}
	return ended, nil
}

func (s *memoryStore) SweepExpired(ctx context.Context, cutoff, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var swept int64
	for token, sess := range s.rows {
		if !sess.Active || !sess.LastActivity.Before(cutoff) {
			continue
		}
		sess.Active = false
		sess.EndedReason = session.EndedExpired
		s.rows[token] = sess
		swept++
	}
	return swept, nil
}

func (s *memoryStore) PurgeEnded(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var purged int64
	for token, sess := range s.rows {
		if sess.Active || !sess.LastActivity.Before(before) {
			continue
		}
		delete(s.rows, token)
		purged++
	}
	return purged, nil
}

func (s *memoryStore) get(t *testing.T, token string) session.Session {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.rows[token]
	require.True(t, ok, "session %q missing", token)
	return sess
}

type stubDirectory struct {
	mu       sync.Mutex
	inactive map[int64]bool
	fail     error
}

func (d *stubDirectory) IsActive(ctx context.Context, role shared.Role, principalID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return false, d.fail
	}
	return !d.inactive[principalID], nil
}

func (d *stubDirectory) deactivate(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inactive == nil {
		d.inactive = make(map[int64]bool)
	}
	d.inactive[id] = true
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testTimeout = time.Hour

func newTestManager(t *testing.T) (*session.Manager, *memoryStore, *stubDirectory, *fakeClock) {
	t.Helper()
	store := newMemoryStore()
	directory := &stubDirectory{}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	mgr := session.NewManager(store, directory, slog.Default(), testTimeout, 24*time.Hour).WithClock(clock.Now)
	return mgr, store, directory, clock
}

func TestCreateThenValidate(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, shared.RoleDonator, 7, "10.0.0.1", "test-agent")
	require.NoError(t, err)
	require.Len(t, sess.Token, session.TokenLength)

	ic, err := mgr.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.True(t, ic.Authenticated)
	require.Equal(t, shared.RoleDonator, ic.Role)
	require.Equal(t, int64(7), ic.PrincipalID)
	require.Equal(t, sess.Token, ic.SessionToken)
}

func TestValidateWithoutTokenIsAnonymous(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	ic, err := mgr.Validate(context.Background(), "")
	require.NoError(t, err)
	require.False(t, ic.Authenticated)
}

func TestValidateUnknownTokenIsInvalid(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	token, err := session.NewToken()
	require.NoError(t, err)
	_, err = mgr.Validate(context.Background(), token)
	require.ErrorIs(t, err, shared.ErrSessionInvalid)
}

func TestValidateExpiryBoundary(t *testing.T) {
	mgr, store, _, clock := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, shared.RoleMonk, 3, "", "")
	require.NoError(t, err)

	// One second inside the window: still valid, activity refreshed.
	clock.Advance(testTimeout - time.Second)
	ic, err := mgr.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.True(t, ic.Authenticated)
	require.Equal(t, clock.Now(), store.get(t, sess.Token).LastActivity)

	// One second past the refreshed window: expired and marked so.
	clock.Advance(testTimeout + time.Second)
	_, err = mgr.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, shared.ErrSessionExpired)
	row := store.get(t, sess.Token)
	require.False(t, row.Active)
	require.Equal(t, session.EndedExpired, row.EndedReason)

	// An expired session stays invalid on subsequent checks.
	_, err = mgr.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, shared.ErrSessionInvalid)
}

func TestValidateDeactivatedPrincipal(t *testing.T) {
	mgr, store, directory, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, shared.RoleDoctor, 12, "", "")
	require.NoError(t, err)
	directory.deactivate(12)

	_, err = mgr.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, shared.ErrSessionInvalid)
	row := store.get(t, sess.Token)
	require.False(t, row.Active)
	require.Equal(t, session.EndedDeactivated, row.EndedReason)
}

func TestValidateFailsClosedOnStoreError(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, shared.RoleAdmin, 1, "", "")
	require.NoError(t, err)

	store.fail = errors.New("connection refused")
	_, err = mgr.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, shared.ErrSessionInvalid)
}

func TestValidateFailsClosedOnDirectoryError(t *testing.T) {
	mgr, _, directory, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, shared.RoleAdmin, 1, "", "")
	require.NoError(t, err)

	directory.fail = errors.New("connection refused")
	_, err = mgr.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, shared.ErrSessionInvalid)
}

func TestRemainingTimeDoesNotRefresh(t *testing.T) {
	mgr, store, _, clock := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, shared.RoleDonator, 5, "", "")
	require.NoError(t, err)
	created := store.get(t, sess.Token).LastActivity

	clock.Advance(10 * time.Minute)
	remaining, err := mgr.RemainingTime(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, testTimeout-10*time.Minute, remaining)
	require.Equal(t, created, store.get(t, sess.Token).LastActivity)

	clock.Advance(testTimeout)
	remaining, err = mgr.RemainingTime(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), remaining)
}

func TestEndIsIdempotent(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, shared.RoleDonator, 5, "", "")
	require.NoError(t, err)

	require.NoError(t, mgr.End(ctx, sess.Token, session.EndedLoggedOut))
	first := store.get(t, sess.Token)
	require.False(t, first.Active)
	require.Equal(t, session.EndedLoggedOut, first.EndedReason)

	// Second logout observes the same state and no error.
	require.NoError(t, mgr.End(ctx, sess.Token, session.EndedLoggedOut))
	require.Equal(t, first, store.get(t, sess.Token))

	// Ending a token that never existed is not an error either.
	other, err := session.NewToken()
	require.NoError(t, err)
	require.NoError(t, mgr.End(ctx, other, session.EndedLoggedOut))
}

func TestTerminateOthersKeepsOnlyOneSession(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 4; i++ {
		sess, err := mgr.Create(ctx, shared.RoleMonk, 9, "", "")
		require.NoError(t, err)
		tokens = append(tokens, sess.Token)
	}
	// A different principal's session must be untouched.
	otherSess, err := mgr.Create(ctx, shared.RoleMonk, 10, "", "")
	require.NoError(t, err)

	keep := tokens[2]
	ended, err := mgr.TerminateOthers(ctx, shared.RoleMonk, 9, keep, session.EndedAdminTerminated)
	require.NoError(t, err)
	require.Equal(t, int64(3), ended)

	for _, token := range tokens {
		row := store.get(t, token)
		if token == keep {
			require.True(t, row.Active)
			continue
		}
		require.False(t, row.Active)
		require.Equal(t, session.EndedAdminTerminated, row.EndedReason)
	}
	require.True(t, store.get(t, otherSess.Token).Active)

	// Rerunning finds nothing left to end.
	ended, err = mgr.TerminateOthers(ctx, shared.RoleMonk, 9, keep, session.EndedAdminTerminated)
	require.NoError(t, err)
	require.Zero(t, ended)
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	mgr, store, _, clock := newTestManager(t)
	ctx := context.Background()

	stale, err := mgr.Create(ctx, shared.RoleDonator, 1, "", "")
	require.NoError(t, err)
	clock.Advance(testTimeout + time.Minute)
	fresh, err := mgr.Create(ctx, shared.RoleDonator, 2, "", "")
	require.NoError(t, err)

	swept, err := mgr.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), swept)
	require.False(t, store.get(t, stale.Token).Active)
	require.True(t, store.get(t, fresh.Token).Active)

	swept, err = mgr.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestPurgeEndedRemovesOnlyOldInactiveRows(t *testing.T) {
	mgr, store, _, clock := newTestManager(t)
	ctx := context.Background()

	dead, err := mgr.Create(ctx, shared.RoleDonator, 1, "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.End(ctx, dead.Token, session.EndedLoggedOut))

	alive, err := mgr.Create(ctx, shared.RoleDonator, 2, "", "")
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	purged, err := mgr.PurgeEnded(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	store.mu.Lock()
	_, deadExists := store.rows[dead.Token]
	_, aliveExists := store.rows[alive.Token]
	store.mu.Unlock()
	require.False(t, deadExists)
	require.True(t, aliveExists)
}
