// Package auth resolves the authenticated principal for a request.
//
// Resolution is fail-closed: a missing or malformed credential, an expired
// session, a bad signature or an unreachable store all yield "no principal".
// Callers never see why; the cause is only logged server-side.
package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Method records how a principal was authenticated.
type Method string

const (
	MethodSession Method = "session"
	MethodToken   Method = "token"
)

// Principal is the authenticated user behind a request. It carries only the
// user's identity; roles are resolved per workspace on every request.
type Principal struct {
	UserID    uuid.UUID
	Method    Method
	SessionID uuid.UUID // zero for token principals
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// WithPrincipal returns a copy of ctx carrying the principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// UserIDFromContext returns the principal's user ID or ErrUnauthenticated.
func UserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	principal := PrincipalFromContext(ctx)
	if principal == nil || principal.UserID == uuid.Nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return principal.UserID, nil
}
