package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// Repository defines persistence operations against the credential store.
// Every call is scoped to one role partition.
type Repository interface {
	FindByLoginOrEmail(ctx context.Context, role shared.Role, login string) (*Principal, error)
	FindByID(ctx context.Context, role shared.Role, id int64) (*Principal, error)
	InsertDonator(ctx context.Context, p Principal) (int64, error)
	UpdatePassword(ctx context.Context, role shared.Role, id int64, hash string) error
	TouchLastSeen(ctx context.Context, role shared.Role, id int64, at time.Time) error
	IsActive(ctx context.Context, role shared.Role, id int64) (bool, error)
}

const uniqueViolation = "23505"

// PGRepository implements Repository using PostgreSQL. Each role maps to
// its own table via the closed Role set, so an unknown role cannot reach
// the query layer.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) FindByLoginOrEmail(ctx context.Context, role shared.Role, login string) (*Principal, error) {
	table, err := partition(role)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, login_name, email, password_hash, display_name, is_active, last_seen_at, created_at, updated_at
		 FROM %s WHERE login_name = $1 OR email = $1`, table), login)
	return scanPrincipal(row, role)
}

func (r *PGRepository) FindByID(ctx context.Context, role shared.Role, id int64) (*Principal, error) {
	table, err := partition(role)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, login_name, email, password_hash, display_name, is_active, last_seen_at, created_at, updated_at
		 FROM %s WHERE id = $1`, table), id)
	return scanPrincipal(row, role)
}

func (r *PGRepository) InsertDonator(ctx context.Context, p Principal) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO donators (login_name, email, password_hash, display_name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW()) RETURNING id`,
		p.LoginName, p.Email, p.PasswordHash, p.DisplayName).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, shared.ErrDuplicateIdentity
		}
		return 0, shared.StoreErrorf("insert donator: %w", err)
	}
	return id, nil
}

func (r *PGRepository) UpdatePassword(ctx context.Context, role shared.Role, id int64, hash string) error {
	table, err := partition(role)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET password_hash = $2, updated_at = NOW() WHERE id = $1`, table), id, hash)
	if err != nil {
		return shared.StoreErrorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPrincipalNotFound
	}
	return nil
}

func (r *PGRepository) TouchLastSeen(ctx context.Context, role shared.Role, id int64, at time.Time) error {
	table, err := partition(role)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET last_seen_at = $2 WHERE id = $1`, table), id, at.UTC())
	if err != nil {
		return shared.StoreErrorf("touch last seen: %w", err)
	}
	return nil
}

func (r *PGRepository) IsActive(ctx context.Context, role shared.Role, id int64) (bool, error) {
	table, err := partition(role)
	if err != nil {
		return false, err
	}
	var active bool
	err = r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT is_active FROM %s WHERE id = $1`, table), id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, shared.StoreErrorf("check active: %w", err)
	}
	return active, nil
}

func partition(role shared.Role) (string, error) {
	table := role.Partition()
	if table == "" {
		return "", fmt.Errorf("no partition for role %v", role)
	}
	return table, nil
}

func scanPrincipal(row pgx.Row, role shared.Role) (*Principal, error) {
	p := Principal{Role: role}
	err := row.Scan(&p.ID, &p.LoginName, &p.Email, &p.PasswordHash, &p.DisplayName,
		&p.Active, &p.LastSeenAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, shared.StoreErrorf("scan principal: %w", err)
	}
	return &p, nil
}

var _ Repository = (*PGRepository)(nil)
