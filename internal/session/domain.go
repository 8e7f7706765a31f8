package session

import (
	"time"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// EndReason records why a session left the active state. Rows are kept
// soft-inactive with their reason for audit until purged.
type EndReason string

const (
	EndedExpired         EndReason = "expired"
	EndedLoggedOut       EndReason = "logged_out"
	EndedDeactivated     EndReason = "deactivated"
	EndedAdminTerminated EndReason = "admin_terminated"
)

// Session binds an opaque token to a principal for one browser context.
// The token is the sole client-held capability; the store is the source
// of truth on every request.
type Session struct {
	Token        string
	Role         shared.Role
	PrincipalID  int64
	IP           string
	UserAgent    string
	LoginAt      time.Time
	LastActivity time.Time
	Active       bool
	EndedReason  EndReason
}
