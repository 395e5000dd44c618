package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthClaims represents the decoded claims of a validated access token
type AuthClaims interface {
	Subject() string
	UserID() string
	PrincipalID() (uuid.UUID, error)
	Username() string
	Email() string
	DisplayName() string
	Roles() []string
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	TokenID() string
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the access token payload. Role names travel as the "role"
// array, one entry per role.
type JWTClaims struct {
	jwt.RegisteredClaims
	Name         string   `json:"name,omitempty"`
	EmailAddress string   `json:"email,omitempty"`
	Display      string   `json:"display_name,omitempty"`
	RoleNames    []string `json:"role,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// NewJWTClaims builds the claims for a principal
func NewJWTClaims(p PrincipalSnapshot) *JWTClaims {
	roles := make([]string, len(p.Roles))
	copy(roles, p.Roles)
	return &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: p.ID.String(),
		},
		Name:         p.Username,
		EmailAddress: p.Email,
		Display:      p.DisplayName,
		RoleNames:    roles,
	}
}

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	return c.Subject()
}

// PrincipalID parses the subject as a UUID
func (c *JWTClaims) PrincipalID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject())
}

func (c *JWTClaims) Username() string {
	return c.Name
}

func (c *JWTClaims) Email() string {
	return c.EmailAddress
}

func (c *JWTClaims) DisplayName() string {
	if c.Display == "" {
		return c.Name
	}
	return c.Display
}

// Roles returns a copy of the role claims
func (c *JWTClaims) Roles() []string {
	out := make([]string, len(c.RoleNames))
	copy(out, c.RoleNames)
	return out
}

// HasRole checks if the token carries role
func (c *JWTClaims) HasRole(role string) bool {
	for _, r := range c.RoleNames {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsAtLeast checks if any role claim meets the minimum system role
func (c *JWTClaims) IsAtLeast(minRole string) bool {
	return IsAtLeast(c.RoleNames, minRole)
}

// TokenID returns the jti claim
func (c *JWTClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
