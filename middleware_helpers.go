package auth

import (
	"context"

	"github.com/goliatone/go-blog-auth/middleware/jwtware"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter adapts jwtware.AuthClaims to auth.AuthClaims and stores
// the claims in the standard context for downstream handlers.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// OwnerResolver returns the owner of the resource addressed by the request
type OwnerResolver func(c router.Context) (uuid.UUID, error)

// RequirePermission only lets through principals holding permission. It must
// run after the bearer middleware.
func RequirePermission(authorizer Authorizer, permission string) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			principalID, ok := principalFromLocals(c)
			if !ok {
				return writeError(c, ErrTokenInvalid)
			}

			allowed, err := authorizer.HasPermission(c.Context(), principalID, permission)
			if err != nil {
				return writeError(c, err)
			}
			if !allowed {
				return writeError(c, ErrUnauthorized)
			}
			return next(c)
		}
	}
}

// RequireOwnerOrPermission lets through the owner of the resource, or any
// principal holding overridePermission.
func RequireOwnerOrPermission(authorizer Authorizer, owner OwnerResolver, overridePermission string) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			principalID, ok := principalFromLocals(c)
			if !ok {
				return writeError(c, ErrTokenInvalid)
			}

			ownerID, err := owner(c)
			if err != nil {
				return writeError(c, err)
			}

			override := false
			if overridePermission != "" && principalID != ownerID {
				override, err = authorizer.HasPermission(c.Context(), principalID, overridePermission)
				if err != nil {
					return writeError(c, err)
				}
			}

			if !CanActOnOwnedResource(principalID, ownerID, override) {
				return writeError(c, ErrUnauthorized)
			}
			return next(c)
		}
	}
}

func principalFromLocals(c router.Context) (uuid.UUID, bool) {
	claims, ok := ClaimsFromLocals(c)
	if !ok {
		return PrincipalIDFromContext(c.Context())
	}
	id, err := claims.PrincipalID()
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
