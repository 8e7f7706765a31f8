package session

import (
	"context"
	"time"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// Store persists session rows. All mutations are independent per-row
// updates keyed by token or by principal+role; End and its bulk variants
// are idempotent so they stay safe under concurrent validation.
type Store interface {
	// Insert creates the row for a freshly minted token.
	Insert(ctx context.Context, s Session) error
	// Get fetches a row by token, shared.ErrNotFound when absent.
	Get(ctx context.Context, token string) (Session, error)
	// Touch refreshes last-activity. Concurrent touches race benignly;
	// last write wins.
	Touch(ctx context.Context, token string, at time.Time) error
	// End marks the row inactive with the given reason. Ending an already
	// inactive row is a no-op, not an error.
	End(ctx context.Context, token string, reason EndReason, at time.Time) error
	// EndOthers marks every active row for the principal inactive except
	// keepToken, returning how many rows changed.
	EndOthers(ctx context.Context, role shared.Role, principalID int64, keepToken string, reason EndReason, at time.Time) (int64, error)
	// SweepExpired bulk-marks rows whose last activity predates cutoff.
	SweepExpired(ctx context.Context, cutoff, at time.Time) (int64, error)
	// PurgeEnded hard-deletes inactive rows untouched since before.
	PurgeEnded(ctx context.Context, before time.Time) (int64, error)
}
