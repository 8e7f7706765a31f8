package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// PGStore implements Store on PostgreSQL. The sessions table is the source
// of truth for every request.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (token, role, principal_id, ip, ua, login_at, last_activity, is_active, ended_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, '')`,
		sess.Token, sess.Role.String(), sess.PrincipalID, sess.IP, sess.UserAgent,
		sess.LoginAt.UTC(), sess.LastActivity.UTC())
	if err != nil {
		return shared.StoreErrorf("insert session: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, token string) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT token, role, principal_id, ip, ua, login_at, last_activity, is_active, ended_reason
		 FROM sessions WHERE token = $1`, token)
	var sess Session
	var roleName, reason string
	if err := row.Scan(&sess.Token, &roleName, &sess.PrincipalID, &sess.IP, &sess.UserAgent,
		&sess.LoginAt, &sess.LastActivity, &sess.Active, &reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, shared.ErrNotFound
		}
		return Session{}, shared.StoreErrorf("get session: %w", err)
	}
	role, err := shared.ParseRole(roleName)
	if err != nil {
		return Session{}, shared.StoreErrorf("get session: %w", err)
	}
	sess.Role = role
	sess.EndedReason = EndReason(reason)
	return sess, nil
}

func (s *PGStore) Touch(ctx context.Context, token string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_activity = $2 WHERE token = $1 AND is_active`, token, at.UTC())
	if err != nil {
		return shared.StoreErrorf("touch session: %w", err)
	}
	return nil
}

func (s *PGStore) End(ctx context.Context, token string, reason EndReason, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET is_active = FALSE, ended_reason = $2, last_activity = $3
		 WHERE token = $1 AND is_active`, token, string(reason), at.UTC())
	if err != nil {
		return shared.StoreErrorf("end session: %w", err)
	}
	return nil
}

func (s *PGStore) EndOthers(ctx context.Context, role shared.Role, principalID int64, keepToken string, reason EndReason, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET is_active = FALSE, ended_reason = $4, last_activity = $5
		 WHERE role = $1 AND principal_id = $2 AND token <> $3 AND is_active`,
		role.String(), principalID, keepToken, string(reason), at.UTC())
	if err != nil {
		return 0, shared.StoreErrorf("end other sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) SweepExpired(ctx context.Context, cutoff, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET is_active = FALSE, ended_reason = $2
		 WHERE is_active AND last_activity < $1`, cutoff.UTC(), string(EndedExpired))
	if err != nil {
		return 0, shared.StoreErrorf("sweep sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) PurgeEnded(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE NOT is_active AND last_activity < $1`, before.UTC())
	if err != nil {
		return 0, shared.StoreErrorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PGStore)(nil)
