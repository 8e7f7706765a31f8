// Package gate is the thin policy layer between a validated identity and a
// role-gated resource. It only decides allow/deny; turning a deny into a
// redirect is the web surface's job.
package gate

import (
	"github.com/metta-portal/metta-portal/internal/shared"
)

// RequireRole checks the identity against the required role. It returns
// shared.ErrNotAuthenticated for anonymous callers and shared.ErrWrongRole
// for authenticated callers of another role.
func RequireRole(ic shared.IdentityContext, role shared.Role) error {
	if !ic.Authenticated {
		return shared.ErrNotAuthenticated
	}
	if ic.Role != role {
		return shared.ErrWrongRole
	}
	return nil
}

// RequireAny allows any of the listed roles.
func RequireAny(ic shared.IdentityContext, roles ...shared.Role) error {
	if !ic.Authenticated {
		return shared.ErrNotAuthenticated
	}
	for _, role := range roles {
		if ic.Role == role {
			return nil
		}
	}
	return shared.ErrWrongRole
}
