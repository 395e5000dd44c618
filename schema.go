package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Models lists every table owned by the auth core, in creation order.
func Models() []any {
	return []any{
		(*User)(nil),
		(*Role)(nil),
		(*Permission)(nil),
		(*UserRole)(nil),
		(*RolePermission)(nil),
		(*RefreshToken)(nil),
	}
}

type indexDef struct {
	name    string
	model   any
	columns []string
	unique  bool
	where   string
}

var schemaIndexes = []indexDef{
	{name: "users_email_live_idx", model: (*User)(nil), columns: []string{"lower(email)"}, unique: true, where: "is_deleted = false"},
	{name: "users_username_live_idx", model: (*User)(nil), columns: []string{"lower(username)"}, unique: true, where: "is_deleted = false"},
	{name: "refresh_tokens_user_idx", model: (*RefreshToken)(nil), columns: []string{"user_id"}},
	{name: "refresh_tokens_expires_idx", model: (*RefreshToken)(nil), columns: []string{"expires_at"}},
	{name: "user_roles_user_idx", model: (*UserRole)(nil), columns: []string{"user_id"}},
	{name: "role_permissions_role_idx", model: (*RolePermission)(nil), columns: []string{"role_id"}},
}

// CreateSchema creates tables and indexes if they do not exist. Migrations
// proper belong to the host application.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}

	for _, idx := range schemaIndexes {
		q := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		for _, col := range idx.columns {
			q = q.ColumnExpr(col)
		}
		if idx.where != "" {
			q = q.Where(idx.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index").
				WithMetadata(map[string]any{"index": idx.name})
		}
	}
	return nil
}
