package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Lifecycle holds the fields every persisted entity shares. A record is live
// while IsDeleted is false.
type Lifecycle struct {
	ID        uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
	IsDeleted bool       `bun:"is_deleted,notnull" json:"isDeleted"`
	DeletedAt *time.Time `bun:"deleted_at,nullzero" json:"deletedAt,omitempty"`
}

// GetLifecycle exposes the embedded lifecycle fields to the generic store.
func (l *Lifecycle) GetLifecycle() *Lifecycle {
	return l
}

// IsLive reports whether the record is not soft deleted
func (l *Lifecycle) IsLive() bool {
	return !l.IsDeleted
}

func (l *Lifecycle) markDeleted(at time.Time) {
	l.IsDeleted = true
	l.DeletedAt = &at
	l.UpdatedAt = at
}

func (l *Lifecycle) markRestored(at time.Time) {
	l.IsDeleted = false
	l.DeletedAt = nil
	l.UpdatedAt = at
}

// Entity is any model that embeds Lifecycle.
type Entity interface {
	GetLifecycle() *Lifecycle
}

// User is the principal model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	Lifecycle

	Username       string     `bun:"username,notnull" json:"username"`
	Email          string     `bun:"email,notnull" json:"email"`
	FirstName      string     `bun:"first_name" json:"firstName,omitempty"`
	LastName       string     `bun:"last_name" json:"lastName,omitempty"`
	DisplayName    string     `bun:"display_name" json:"displayName,omitempty"`
	Phone          string     `bun:"phone_number" json:"phone,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	IsActive       bool       `bun:"is_active,notnull" json:"isActive"`
	EmailConfirmed bool       `bun:"email_confirmed,notnull" json:"emailConfirmed"`
	LastLoginAt    *time.Time `bun:"last_login_at,nullzero" json:"lastLoginAt,omitempty"`
}

// FullName joins first and last name, falling back to the username
func (u *User) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}

// Role groups permissions. System roles cannot be renamed, cleared or deleted.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	Lifecycle

	Name        string `bun:"name,notnull,unique" json:"name"`
	Description string `bun:"description" json:"description,omitempty"`
	IsSystem    bool   `bun:"is_system,notnull" json:"isSystem"`
}

// Permission is a named resource/action pair, e.g. posts.publish
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:prm"`
	Lifecycle

	Name        string `bun:"name,notnull,unique" json:"name"`
	Resource    string `bun:"resource,notnull" json:"resource"`
	Action      string `bun:"action,notnull" json:"action"`
	Category    string `bun:"category" json:"category,omitempty"`
	Description string `bun:"description" json:"description,omitempty"`
}

// UserRole links a principal to a role
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	ID        uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid,unique:user_role_pair" json:"userId"`
	RoleID    uuid.UUID `bun:"role_id,notnull,type:uuid,unique:user_role_pair" json:"roleId"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
}

// RolePermission links a role to a permission
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	RoleID       uuid.UUID `bun:"role_id,notnull,type:uuid,unique:role_permission_pair" json:"roleId"`
	PermissionID uuid.UUID `bun:"permission_id,notnull,type:uuid,unique:role_permission_pair" json:"permissionId"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"createdAt"`
}

// RefreshToken is a ledger entry. Only the SHA-256 hash of the opaque value
// is stored.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rft"`
	Lifecycle

	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"userId"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expiresAt"`
	Revoked       bool       `bun:"revoked,notnull" json:"revoked"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revokedAt,omitempty"`
	RevokedReason string     `bun:"revoked_reason" json:"revokedReason,omitempty"`
	ReplacedByID  *uuid.UUID `bun:"replaced_by_id,type:uuid,nullzero" json:"replacedById,omitempty"`
}

// IsExpired reports whether the token is past expiry. The expiry instant
// itself counts as expired.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshTokenState is the derived state of a ledger entry
type RefreshTokenState string

const (
	RefreshTokenActive  RefreshTokenState = "active"
	RefreshTokenRevoked RefreshTokenState = "revoked"
	RefreshTokenExpired RefreshTokenState = "expired"
)

// State derives the token state at now. Revocation wins over expiry.
func (t *RefreshToken) State(now time.Time) RefreshTokenState {
	switch {
	case t.Revoked:
		return RefreshTokenRevoked
	case t.IsExpired(now):
		return RefreshTokenExpired
	default:
		return RefreshTokenActive
	}
}

// PrincipalSnapshot is the view of a principal handed to the token issuer
// and returned to clients.
type PrincipalSnapshot struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions,omitempty"`
}

// NewPrincipalSnapshot builds a snapshot from a user and its resolved roles
func NewPrincipalSnapshot(user *User, roles, permissions []string) PrincipalSnapshot {
	display := user.DisplayName
	if display == "" {
		display = user.FullName()
	}
	if roles == nil {
		roles = []string{}
	}
	return PrincipalSnapshot{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: display,
		Roles:       roles,
		Permissions: permissions,
	}
}

// HasRole reports whether the snapshot carries role, case-insensitively
func (p PrincipalSnapshot) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

var (
	_ Entity = (*User)(nil)
	_ Entity = (*Role)(nil)
	_ Entity = (*Permission)(nil)
	_ Entity = (*RefreshToken)(nil)
)
