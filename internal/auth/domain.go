package auth

import (
	"time"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// Principal represents one authenticated identity inside a role partition.
// Records are never deleted by this core; deactivation is a soft flag.
type Principal struct {
	ID           int64
	Role         shared.Role
	LoginName    string
	Email        string
	PasswordHash string
	DisplayName  string
	Active       bool
	LastSeenAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DonatorRegistration carries the self-registration form. Only the donator
// role self-registers; the other partitions are provisioned by admin
// tooling.
type DonatorRegistration struct {
	LoginName   string `validate:"required"`
	Email       string `validate:"required,email"`
	Password    string `validate:"required"`
	DisplayName string `validate:"required"`
}

// RequestMeta carries the origin metadata captured on state-changing calls.
type RequestMeta struct {
	IP        string
	UserAgent string
}
