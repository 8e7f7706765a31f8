package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials indicates login failure. It deliberately does not
	// distinguish an unknown login name from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDeactivated indicates the principal exists but is soft-disabled.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrDuplicateIdentity indicates a login name or email already taken
	// within the role partition.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrInvalidEmail indicates a syntactically invalid email address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrWeakPassword indicates a password below the configured minimum length.
	ErrWeakPassword = errors.New("password too short")
	// ErrPrincipalNotFound indicates no principal record for the given id.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPasswordMismatch indicates the supplied current password is wrong.
	ErrPasswordMismatch = errors.New("current password mismatch")
	// ErrSessionExpired indicates the session idled past its timeout.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionInvalid indicates no usable session for the supplied token.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrNotAuthenticated indicates an anonymous caller hit a gated resource.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrWrongRole indicates an authenticated caller of the wrong role.
	ErrWrongRole = errors.New("wrong role")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

// StoreErrorf wraps an infrastructure failure so callers can detect it with
// IsStoreError while keeping the underlying cause in the chain.
func StoreErrorf(format string, args ...any) error {
	return &storeError{err: fmt.Errorf(format, args...)}
}

type storeError struct {
	err error
}

func (e *storeError) Error() string { return "store: " + e.err.Error() }

func (e *storeError) Unwrap() error { return e.err }

// IsStoreError reports whether err originated in a backing store rather than
// in domain logic.
func IsStoreError(err error) bool {
	var se *storeError
	return errors.As(err, &se)
}
