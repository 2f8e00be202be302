// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// UserContext holds the authenticated identity extracted from a request.
// This is populated by the auth middleware and retrieved from context in
// handlers. The user ID is the identity provider's stable subject string;
// courier treats it as opaque.
type UserContext struct {
	UserID string
}

// userContextKey is the key type for storing UserContext in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the UserContext attached.
func WithUser(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// FromContext retrieves the UserContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *UserContext {
	val := ctx.Value(userContextKey{})
	if val == nil {
		return nil
	}
	uc, ok := val.(*UserContext)
	if !ok {
		return nil
	}
	return uc
}

// MustFromContext retrieves the UserContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *UserContext {
	uc := FromContext(ctx)
	if uc == nil {
		panic("auth: UserContext not found in context")
	}
	return uc
}
