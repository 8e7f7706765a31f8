package audit

import (
	"time"

	"github.com/metta-portal/metta-portal/internal/shared"
)

// Action names for the identity core. Kept as constants so the trail stays
// greppable.
const (
	ActionLoginAttempt   = "auth.login_attempt"
	ActionSessionCreate  = "auth.session.create"
	ActionLogout         = "auth.logout"
	ActionRegister       = "auth.register"
	ActionPasswordChange = "auth.password.change"
	ActionTerminate      = "session.terminate"
	ActionTerminateOther = "session.terminate_others"
)

// Event is one immutable security-relevant record. Actor fields are zero
// for anonymous callers. Payloads must never carry password material, raw
// or hashed.
type Event struct {
	ID        string
	ActorRole shared.Role
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Before    map[string]any
	After     map[string]any
	IP        string
	UserAgent string
	At        time.Time
}
