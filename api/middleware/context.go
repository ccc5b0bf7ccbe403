package middleware

import (
	"context"

	"github.com/angelmondragon/storefront-backend/internal/identity"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type contextKey string

const (
	ctxRole        contextKey = "actor_role"
	ctxDeviceOwner contextKey = "device_owner"
)

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// WithRole injects the token role into the context.
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}

// DeviceOwnerFromContext returns the anonymous owner derived from X-Session-Id,
// even when the request also carries a bearer token.
func DeviceOwnerFromContext(ctx context.Context) (identity.Owner, bool) {
	if ctx == nil {
		return identity.Owner{}, false
	}
	owner, ok := ctx.Value(ctxDeviceOwner).(identity.Owner)
	return owner, ok && !owner.IsZero()
}

func WithDeviceOwner(ctx context.Context, owner identity.Owner) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxDeviceOwner, owner)
}

// OwnerFromContext returns the owner resolved by Identity, or an
// unauthorized error when the middleware did not run.
func OwnerFromContext(ctx context.Context) (identity.Owner, error) {
	owner, ok := identity.FromContext(ctx)
	if !ok || owner.IsZero() {
		return identity.Owner{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	return owner, nil
}
