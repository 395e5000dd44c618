package auth

import (
	"context"
	"strings"

	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the principal repository. Every lookup ignores soft deleted users
// and compares username and email case-insensitively.
type Users interface {
	Store[*User]
	Purger

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	IsTaken(ctx context.Context, username, email string) (bool, error)

	Register(ctx context.Context, user *User) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error

	WithTx(tx bun.IDB) Users
}

type users struct {
	*LifecycleStore[*User]
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB, opts ...StoreOption) Users {
	return &users{
		LifecycleStore: NewStore(db, StoreHandlers[*User]{
			NewRecord: func() *User { return &User{} },
		}, opts...),
	}
}

func (a *users) WithTx(tx bun.IDB) Users {
	return &users{LifecycleStore: a.LifecycleStore.WithTx(tx)}
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	user, err := a.FindOne(ctx, WhereEqualFold("email", strings.TrimSpace(email)))
	if err != nil {
		return nil, a.identifierNotFound(err, "email", email)
	}
	return user, nil
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	user, err := a.FindOne(ctx, WhereEqualFold("username", strings.TrimSpace(username)))
	if err != nil {
		return nil, a.identifierNotFound(err, "username", username)
	}
	return user, nil
}

// GetByIdentifier resolves an id, email or username, in that order.
func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	options := resolveUserIdentifier(identifier)

	for _, opt := range options {
		var criteria SelectCriteria
		if opt.column == "id" {
			criteria = WhereEqual("id", opt.value)
		} else {
			criteria = WhereEqualFold(opt.column, opt.value)
		}

		record, err := a.FindOne(ctx, criteria)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

// IsTaken reports whether a live user already owns username or email
func (a *users) IsTaken(ctx context.Context, username, email string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))

	n, err := a.Count(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("lower(?TableAlias.email) = ?", email).
				WhereOr("lower(?TableAlias.username) = ?", username)
		})
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	prepareUserDefaults(user)
	return a.Add(ctx, user)
}

func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := a.DB().NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", a.now()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.is_deleted = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return a.notFound(id)
	}
	return nil
}

func (a *users) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := a.DB().NewUpdate().
		Model((*User)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", a.now()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.is_deleted = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return a.notFound(id)
	}
	return nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	loggedInAt := a.now()
	_, err := a.DB().NewUpdate().
		Model((*User)(nil)).
		Set("last_login_at = ?", loggedInAt).
		Where("?TableAlias.id = ?", user.ID).
		Where("?TableAlias.is_deleted = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}
	user.LastLoginAt = &loggedInAt
	return nil
}

func (a *users) identifierNotFound(err error, column, value string) error {
	if !IsNotFound(err) {
		return err
	}
	return repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			column: value,
		})
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = strings.ToLower(strings.TrimSpace(record.Email))
	record.Username = strings.TrimSpace(record.Username)

	if record.DisplayName == "" {
		record.DisplayName = record.FullName()
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	return email != "" && is.EmailFormat.Validate(email) == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
