package shared

import (
	"context"
	"time"
)

// IdentityContext is the request-scoped view of the caller produced by
// session validation. It is computed fresh for every request and never
// cached beyond it.
type IdentityContext struct {
	Authenticated bool
	Role          Role
	PrincipalID   int64
	SessionToken  string
	Remaining     time.Duration
}

// Anonymous returns the identity of an unauthenticated caller.
func Anonymous() IdentityContext {
	return IdentityContext{}
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in the request context.
func ContextWithIdentity(ctx context.Context, ic IdentityContext) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ic)
}

// IdentityFromContext extracts the identity from context. A missing value
// reads as anonymous.
func IdentityFromContext(ctx context.Context) IdentityContext {
	ic, _ := ctx.Value(identityContextKey{}).(IdentityContext)
	return ic
}
