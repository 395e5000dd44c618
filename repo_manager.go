package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Roles() Roles
	Permissions() Permissions
	RefreshTokens() RefreshLedger
	DB() *bun.DB
}

// ManagerOption configures the repository manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	storeOpts  []StoreOption
	ledgerOpts []LedgerOption
	refreshTTL time.Duration
}

// WithManagerStoreOptions forwards options to every lifecycle store
func WithManagerStoreOptions(opts ...StoreOption) ManagerOption {
	return func(o *managerOptions) {
		o.storeOpts = append(o.storeOpts, opts...)
	}
}

// WithManagerLedgerOptions forwards options to the refresh token ledger
func WithManagerLedgerOptions(opts ...LedgerOption) ManagerOption {
	return func(o *managerOptions) {
		o.ledgerOpts = append(o.ledgerOpts, opts...)
	}
}

// WithManagerRefreshTTL sets the default refresh token lifetime
func WithManagerRefreshTTL(ttl time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.refreshTTL = ttl
	}
}

type mngr struct {
	db            *bun.DB
	users         Users
	roles         Roles
	permissions   Permissions
	refreshTokens RefreshLedger
}

func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) RepositoryManager {
	o := &managerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return &mngr{
		db:            db,
		users:         NewUsersRepository(db, o.storeOpts...),
		roles:         NewRolesRepository(db, o.storeOpts...),
		permissions:   NewPermissionsRepository(db, o.storeOpts...),
		refreshTokens: NewRefreshTokenLedger(db, o.refreshTTL, o.ledgerOpts...),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.permissions == nil {
		return errors.New("repository permissions should be initialized")
	}

	if m.refreshTokens == nil {
		return errors.New("refresh token ledger should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) Permissions() Permissions {
	return m.permissions
}

func (m mngr) RefreshTokens() RefreshLedger {
	return m.refreshTokens
}

func (m mngr) DB() *bun.DB {
	return m.db
}
