package auth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RoleManager manages roles, permissions and their assignments. System roles
// can gain or lose individual grants but cannot be renamed, cleared or deleted.
type RoleManager struct {
	repo   RepositoryManager
	logger Logger
}

func NewRoleManager(repo RepositoryManager) *RoleManager {
	return &RoleManager{
		repo:   repo,
		logger: defaultLogger("role_admin"),
	}
}

func (a *RoleManager) WithLogger(logger Logger) *RoleManager {
	a.logger = resolveLogger("role_admin", logger)
	return a
}

// CreateRole adds a custom, non system role
func (a *RoleManager) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("role name is required", nil)
	}

	var created *Role
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		roles := a.repo.Roles().WithTx(tx)
		if _, err := roles.GetByName(ctx, name); err == nil {
			return conflict("role already exists", map[string]any{"role": name})
		} else if !IsNotFound(err) {
			return err
		}

		record, err := roles.Add(ctx, &Role{Name: name, Description: description})
		if err != nil {
			return err
		}
		created = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RenameRole changes the name of a custom role
func (a *RoleManager) RenameRole(ctx context.Context, roleID uuid.UUID, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("role name is required", nil)
	}

	var updated *Role
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		roles := a.repo.Roles().WithTx(tx)
		role, err := a.mutableRole(ctx, roles, roleID, "rename")
		if err != nil {
			return err
		}
		if strings.EqualFold(role.Name, name) {
			updated = role
			return nil
		}
		if _, err := roles.GetByName(ctx, name); err == nil {
			return conflict("role already exists", map[string]any{"role": name})
		} else if !IsNotFound(err) {
			return err
		}

		role.Name = name
		updated, err = roles.Update(ctx, role)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRole soft deletes a custom role. Its assignments stay in place but are
// ignored while the role is deleted.
func (a *RoleManager) DeleteRole(ctx context.Context, roleID uuid.UUID) error {
	return a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		roles := a.repo.Roles().WithTx(tx)
		if _, err := a.mutableRole(ctx, roles, roleID, "delete"); err != nil {
			return err
		}
		return roles.SoftDeleteByID(ctx, roleID)
	})
}

// RestoreRole undoes DeleteRole
func (a *RoleManager) RestoreRole(ctx context.Context, roleID uuid.UUID) (*Role, error) {
	return a.repo.Roles().RestoreByID(ctx, roleID)
}

// CreatePermission adds a permission. Names are unique across the system.
func (a *RoleManager) CreatePermission(ctx context.Context, permission *Permission) (*Permission, error) {
	if permission == nil || strings.TrimSpace(permission.Name) == "" {
		return nil, validationError("permission name is required", nil)
	}
	permission.Name = strings.TrimSpace(permission.Name)
	if permission.Resource == "" || permission.Action == "" {
		if resource, action, ok := strings.Cut(permission.Name, "."); ok {
			if permission.Resource == "" {
				permission.Resource = resource
			}
			if permission.Action == "" {
				permission.Action = action
			}
		}
	}
	if permission.Resource == "" || permission.Action == "" {
		return nil, validationError("permission resource and action are required", map[string]any{
			"permission": permission.Name,
		})
	}

	var created *Permission
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		perms := a.repo.Permissions().WithTx(tx)
		if _, err := perms.GetByName(ctx, permission.Name); err == nil {
			return conflict("permission already exists", map[string]any{"permission": permission.Name})
		} else if !IsNotFound(err) {
			return err
		}
		record, err := perms.Add(ctx, permission)
		if err != nil {
			return err
		}
		created = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AssignPermission grants permission to role. Granting twice is a no-op.
func (a *RoleManager) AssignPermission(ctx context.Context, roleID uuid.UUID, permissionName string) error {
	return a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := a.repo.Roles().WithTx(tx).Get(ctx, roleID); err != nil {
			return err
		}
		perms := a.repo.Permissions().WithTx(tx)
		perm, err := perms.GetByName(ctx, permissionName)
		if err != nil {
			return err
		}
		return perms.Grant(ctx, roleID, perm.ID)
	})
}

// RemovePermission removes a single grant. Allowed on system roles.
func (a *RoleManager) RemovePermission(ctx context.Context, roleID uuid.UUID, permissionName string) error {
	return a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		perms := a.repo.Permissions().WithTx(tx)
		perm, err := perms.GetByName(ctx, permissionName)
		if err != nil {
			return err
		}
		return perms.Revoke(ctx, roleID, perm.ID)
	})
}

// ClearPermissions removes every grant of a custom role
func (a *RoleManager) ClearPermissions(ctx context.Context, roleID uuid.UUID) (int64, error) {
	var removed int64
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := a.mutableRole(ctx, a.repo.Roles().WithTx(tx), roleID, "clear"); err != nil {
			return err
		}
		n, err := a.repo.Permissions().WithTx(tx).RevokeAll(ctx, roleID)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// AssignRole gives roleName to a live user. Assigning twice is a no-op.
func (a *RoleManager) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	return a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return assignRoleTx(ctx, a.repo, tx, userID, roleName)
	})
}

// UnassignRole takes roleName away from a user
func (a *RoleManager) UnassignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	return a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		roles := a.repo.Roles().WithTx(tx)
		role, err := roles.GetByName(ctx, roleName)
		if err != nil {
			return err
		}
		return roles.Unassign(ctx, userID, role.ID)
	})
}

func (a *RoleManager) mutableRole(ctx context.Context, roles Roles, roleID uuid.UUID, op string) (*Role, error) {
	role, err := roles.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		a.logger.Warn("rejected system role mutation", "role", role.Name, "operation", op)
		clone := ErrForbidden.Clone()
		if clone == nil {
			return nil, ErrForbidden
		}
		return nil, clone.WithMetadata(map[string]any{
			"role":      role.Name,
			"operation": op,
		})
	}
	return role, nil
}

func assignRoleTx(ctx context.Context, repo RepositoryManager, tx bun.IDB, userID uuid.UUID, roleName string) error {
	if _, err := repo.Users().WithTx(tx).Get(ctx, userID); err != nil {
		if IsNotFound(err) {
			return ErrPrincipalNotFound
		}
		return err
	}
	roles := repo.Roles().WithTx(tx)
	role, err := roles.GetByName(ctx, roleName)
	if err != nil {
		return err
	}
	return roles.Assign(ctx, userID, role.ID)
}

func conflict(message string, metadata map[string]any) error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict).
		WithMetadata(metadata)
}
