package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Permissions is the permission repository, including the role_permissions junction
type Permissions interface {
	Store[*Permission]

	GetByName(ctx context.Context, name string) (*Permission, error)
	ForRole(ctx context.Context, roleID uuid.UUID) ([]*Permission, error)
	ForUser(ctx context.Context, userID uuid.UUID) ([]*Permission, error)
	Grant(ctx context.Context, roleID, permissionID uuid.UUID) error
	Revoke(ctx context.Context, roleID, permissionID uuid.UUID) error
	RevokeAll(ctx context.Context, roleID uuid.UUID) (int64, error)

	WithTx(tx bun.IDB) Permissions
}

type permissions struct {
	*LifecycleStore[*Permission]
}

var _ Permissions = (*permissions)(nil)

func NewPermissionsRepository(db *bun.DB, opts ...StoreOption) Permissions {
	return &permissions{
		LifecycleStore: NewStore(db, StoreHandlers[*Permission]{
			NewRecord: func() *Permission { return &Permission{} },
		}, opts...),
	}
}

func (p *permissions) WithTx(tx bun.IDB) Permissions {
	return &permissions{LifecycleStore: p.LifecycleStore.WithTx(tx)}
}

func (p *permissions) GetByName(ctx context.Context, name string) (*Permission, error) {
	return p.FindOne(ctx, WhereEqualFold("name", strings.TrimSpace(name)))
}

func (p *permissions) ForRole(ctx context.Context, roleID uuid.UUID) ([]*Permission, error) {
	records := make([]*Permission, 0)
	err := p.DB().NewSelect().
		Model(&records).
		Join("JOIN role_permissions AS rp ON rp.permission_id = prm.id").
		Where("rp.role_id = ?", roleID).
		Where("prm.is_deleted = ?", false).
		Order("prm.name ASC").
		Scan(ctx)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	return records, nil
}

// ForUser returns the union of permissions granted through every live role of
// a live user, one row per permission.
func (p *permissions) ForUser(ctx context.Context, userID uuid.UUID) ([]*Permission, error) {
	records := make([]*Permission, 0)
	err := p.DB().NewSelect().
		Model(&records).
		Distinct().
		Join("JOIN role_permissions AS rp ON rp.permission_id = prm.id").
		Join("JOIN roles AS rol ON rol.id = rp.role_id").
		Join("JOIN user_roles AS ur ON ur.role_id = rol.id").
		Join("JOIN users AS usr ON usr.id = ur.user_id").
		Where("ur.user_id = ?", userID).
		Where("prm.is_deleted = ?", false).
		Where("rol.is_deleted = ?", false).
		Where("usr.is_deleted = ?", false).
		Order("prm.name ASC").
		Scan(ctx)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	return records, nil
}

// Grant links role and permission. Granting twice is a no-op.
func (p *permissions) Grant(ctx context.Context, roleID, permissionID uuid.UUID) error {
	link := &RolePermission{
		ID:           uuid.New(),
		RoleID:       roleID,
		PermissionID: permissionID,
		CreatedAt:    p.now(),
	}
	_, err := p.DB().NewInsert().
		Model(link).
		On("CONFLICT (role_id, permission_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (p *permissions) Revoke(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := p.DB().NewDelete().
		Model((*RolePermission)(nil)).
		Where("role_id = ?", roleID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	return err
}

func (p *permissions) RevokeAll(ctx context.Context, roleID uuid.UUID) (int64, error) {
	res, err := p.DB().NewDelete().
		Model((*RolePermission)(nil)).
		Where("role_id = ?", roleID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
