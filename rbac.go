package auth

import (
	"context"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Authorizer answers permission questions about a principal. The HTTP
// helpers depend on this rather than on the evaluator.
type Authorizer interface {
	HasPermission(ctx context.Context, principalID uuid.UUID, permission string) (bool, error)
	IsAdmin(ctx context.Context, principalID uuid.UUID) (bool, error)
}

// RBACEvaluator resolves roles and permissions. It fails closed: a principal
// without roles has no permissions and lookup errors deny.
type RBACEvaluator struct {
	roles       Roles
	permissions Permissions
	adminRole   string
	logger      Logger
}

var _ Authorizer = (*RBACEvaluator)(nil)

// NewRBACEvaluator creates an evaluator backed by the given repositories
func NewRBACEvaluator(roles Roles, permissions Permissions) *RBACEvaluator {
	return &RBACEvaluator{
		roles:       roles,
		permissions: permissions,
		adminRole:   RoleAdmin,
		logger:      defaultLogger("rbac"),
	}
}

// WithLogger sets the logger
func (e *RBACEvaluator) WithLogger(logger Logger) *RBACEvaluator {
	e.logger = resolveLogger("rbac", logger)
	return e
}

// WithAdminRole changes the role name treated as the admin override
func (e *RBACEvaluator) WithAdminRole(name string) *RBACEvaluator {
	if name = strings.TrimSpace(name); name != "" {
		e.adminRole = name
	}
	return e
}

// WithTx returns an evaluator that reads through tx
func (e *RBACEvaluator) WithTx(tx bun.IDB) *RBACEvaluator {
	clone := *e
	clone.roles = e.roles.WithTx(tx)
	clone.permissions = e.permissions.WithTx(tx)
	return &clone
}

// RolesOf returns the sorted, distinct role names of principalID
func (e *RBACEvaluator) RolesOf(ctx context.Context, principalID uuid.UUID) ([]string, error) {
	records, err := e.roles.ForUser(ctx, principalID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve roles")
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Name)
	}
	return dedupeSorted(names), nil
}

// PermissionsOf returns the union of permissions across every role of
// principalID, deduplicated by name.
func (e *RBACEvaluator) PermissionsOf(ctx context.Context, principalID uuid.UUID) ([]string, error) {
	records, err := e.permissions.ForUser(ctx, principalID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve permissions")
	}
	names := make([]string, 0, len(records))
	for _, p := range records {
		names = append(names, p.Name)
	}
	return dedupeSorted(names), nil
}

func (e *RBACEvaluator) HasPermission(ctx context.Context, principalID uuid.UUID, permission string) (bool, error) {
	if principalID == uuid.Nil || strings.TrimSpace(permission) == "" {
		return false, nil
	}
	perms, err := e.PermissionsOf(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if strings.EqualFold(p, permission) {
			return true, nil
		}
	}
	return false, nil
}

// IsAdmin reports whether principalID holds the admin role
func (e *RBACEvaluator) IsAdmin(ctx context.Context, principalID uuid.UUID) (bool, error) {
	if principalID == uuid.Nil {
		return false, nil
	}
	roles, err := e.RolesOf(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if strings.EqualFold(r, e.adminRole) {
			return true, nil
		}
	}
	return false, nil
}

// CanActOnOwnedResource is the owner-or-admin policy: the principal may act
// when it owns the resource or holds an admin override.
func CanActOnOwnedResource(principalID, resourceOwnerID uuid.UUID, isAdminOverride bool) bool {
	if isAdminOverride {
		return true
	}
	return principalID != uuid.Nil && principalID == resourceOwnerID
}

// Authorize returns ErrUnauthorized unless principalID holds permission
func (e *RBACEvaluator) Authorize(ctx context.Context, principalID uuid.UUID, permission string) error {
	ok, err := e.HasPermission(ctx, principalID, permission)
	if err != nil {
		e.logger.Error("permission lookup failed", "error", err, "user_id", principalID.String())
		return err
	}
	if !ok {
		return unauthorized(principalID, map[string]any{"permission": permission})
	}
	return nil
}

// AuthorizeOwned applies CanActOnOwnedResource. The override holds when the
// principal is an admin or, if overridePermission is set, holds it.
func (e *RBACEvaluator) AuthorizeOwned(ctx context.Context, principalID, resourceOwnerID uuid.UUID, overridePermission string) error {
	if CanActOnOwnedResource(principalID, resourceOwnerID, false) {
		return nil
	}

	override, err := e.IsAdmin(ctx, principalID)
	if err != nil {
		return err
	}
	if !override && overridePermission != "" {
		if override, err = e.HasPermission(ctx, principalID, overridePermission); err != nil {
			return err
		}
	}

	if CanActOnOwnedResource(principalID, resourceOwnerID, override) {
		return nil
	}
	return unauthorized(principalID, map[string]any{
		"owner_id":   resourceOwnerID.String(),
		"permission": overridePermission,
	})
}

// Snapshot resolves the roles and permissions of user into a PrincipalSnapshot
func (e *RBACEvaluator) Snapshot(ctx context.Context, user *User) (PrincipalSnapshot, error) {
	roles, err := e.RolesOf(ctx, user.ID)
	if err != nil {
		return PrincipalSnapshot{}, err
	}
	perms, err := e.PermissionsOf(ctx, user.ID)
	if err != nil {
		return PrincipalSnapshot{}, err
	}
	return NewPrincipalSnapshot(user, roles, perms), nil
}

func unauthorized(principalID uuid.UUID, metadata map[string]any) error {
	clone := ErrUnauthorized.Clone()
	if clone == nil {
		return ErrUnauthorized
	}
	md := map[string]any{"user_id": principalID.String()}
	for k, v := range metadata {
		md[k] = v
	}
	return clone.WithMetadata(md)
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
