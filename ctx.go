package auth

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

type claimsKey struct{}

// WithClaimsContext stores claims on ctx
func WithClaimsContext(ctx context.Context, claims AuthClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetClaims returns the claims stored on ctx by the bearer middleware
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(AuthClaims)
	return claims, ok && claims != nil
}

// PrincipalIDFromContext returns the authenticated principal id carried on ctx.
func PrincipalIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := claims.PrincipalID()
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ClaimsFromLocals returns the claims the bearer middleware stored on c.
// key defaults to ClaimsLocalsKey.
func ClaimsFromLocals(c router.Context, key ...string) (AuthClaims, bool) {
	k := ClaimsLocalsKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	claims, ok := c.Locals(k).(AuthClaims)
	return claims, ok && claims != nil
}
