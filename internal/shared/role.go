package shared

import "fmt"

// Role identifies the partition an authenticated principal belongs to.
// The set is closed: every role maps to exactly one credential table.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleMonk
	RoleDoctor
	RoleDonator
)

// Roles lists every valid role in partition order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleMonk, RoleDoctor, RoleDonator}
}

// String returns the canonical lowercase role name.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMonk:
		return "monk"
	case RoleDoctor:
		return "doctor"
	case RoleDonator:
		return "donator"
	default:
		return "unknown"
	}
}

// Partition returns the storage table backing the role's principals.
func (r Role) Partition() string {
	switch r {
	case RoleAdmin:
		return "admins"
	case RoleMonk:
		return "monks"
	case RoleDoctor:
		return "doctors"
	case RoleDonator:
		return "donators"
	default:
		return ""
	}
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMonk, RoleDoctor, RoleDonator:
		return true
	default:
		return false
	}
}

// ParseRole maps a wire-level role name onto the closed set.
func ParseRole(name string) (Role, error) {
	switch name {
	case "admin":
		return RoleAdmin, nil
	case "monk":
		return RoleMonk, nil
	case "doctor":
		return RoleDoctor, nil
	case "donator":
		return RoleDonator, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", name)
	}
}
