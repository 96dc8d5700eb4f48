package auth

import (
	"context"
	"time"
)

// AuthContext is the outcome of a successful authorization, attached to the
// request context for downstream handlers. Treat it as read-only.
type AuthContext struct {
	Principal        string
	Via              Via
	Permissions      *Permissions
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

type authContextKey struct{}

func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(AuthContext)
	return ac, ok
}
