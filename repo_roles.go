package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles is the role repository, including the user_roles junction
type Roles interface {
	Store[*Role]

	GetByName(ctx context.Context, name string) (*Role, error)
	ForUser(ctx context.Context, userID uuid.UUID) ([]*Role, error)
	Assign(ctx context.Context, userID, roleID uuid.UUID) error
	Unassign(ctx context.Context, userID, roleID uuid.UUID) error

	WithTx(tx bun.IDB) Roles
}

type roles struct {
	*LifecycleStore[*Role]
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB, opts ...StoreOption) Roles {
	return &roles{
		LifecycleStore: NewStore(db, StoreHandlers[*Role]{
			NewRecord: func() *Role { return &Role{} },
		}, opts...),
	}
}

func (r *roles) WithTx(tx bun.IDB) Roles {
	return &roles{LifecycleStore: r.LifecycleStore.WithTx(tx)}
}

func (r *roles) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.FindOne(ctx, WhereEqualFold("name", strings.TrimSpace(name)))
}

// ForUser returns the live roles assigned to a live user. Junction rows that
// point at deleted roles are ignored.
func (r *roles) ForUser(ctx context.Context, userID uuid.UUID) ([]*Role, error) {
	records := make([]*Role, 0)
	err := r.DB().NewSelect().
		Model(&records).
		Join("JOIN user_roles AS ur ON ur.role_id = rol.id").
		Join("JOIN users AS usr ON usr.id = ur.user_id").
		Where("ur.user_id = ?", userID).
		Where("rol.is_deleted = ?", false).
		Where("usr.is_deleted = ?", false).
		Order("rol.name ASC").
		Scan(ctx)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	return records, nil
}

// Assign links user and role. Assigning twice is a no-op.
func (r *roles) Assign(ctx context.Context, userID, roleID uuid.UUID) error {
	link := &UserRole{
		ID:        uuid.New(),
		UserID:    userID,
		RoleID:    roleID,
		CreatedAt: r.now(),
	}
	_, err := r.DB().NewInsert().
		Model(link).
		On("CONFLICT (user_id, role_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (r *roles) Unassign(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.DB().NewDelete().
		Model((*UserRole)(nil)).
		Where("user_id = ?", userID).
		Where("role_id = ?", roleID).
		Exec(ctx)
	return err
}
