package auth

import (
	"context"
	"time"

	"ats-platform/internal/rbac"
)

// Identity is the authenticated actor of a request. It lives in request scope
// only.
type Identity struct {
	UserID    string
	Email     string
	Name      string
	Role      rbac.Role
	TokenID   string
	ExpiresAt time.Time
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity attached by the request gate.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}
