package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/tenancy/store"
)

// ctxKey scopes request values set by this package's middleware. The tenant
// ID lives under tenant.TenantIDKey.
type ctxKey uint8

const (
	signedInUserKey ctxKey = iota + 1
	requestIDKey
)

// SetUserContext records the user RequireAuth resolved from the bearer
// token. The user's own TenantID is independent of the X-Tenant-ID scope.
func SetUserContext(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, signedInUserKey, u)
}

// UserFromContext returns the signed-in user, or nil on anonymous routes.
func UserFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(signedInUserKey).(*store.User)
	return u
}

// SetRequestID tags ctx with the ID echoed in X-Request-ID and logged with
// failed requests.
func SetRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request's ID, or uuid.Nil outside
// RequestID.
func RequestIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(requestIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
