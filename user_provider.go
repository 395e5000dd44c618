package auth

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// UserLookup is the part of the users repository needed to verify credentials
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// UserProvider verifies credentials against stored users
type UserProvider struct {
	store     UserLookup
	hasher    PasswordAuthenticator
	Validator func(*User) error
	logger    Logger

	decoyOnce sync.Once
	decoyHash string
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserLookup, hasher PasswordAuthenticator) *UserProvider {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &UserProvider{
		store:  store,
		hasher: hasher,
		logger: defaultLogger("user_provider"),
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.logger = resolveLogger("user_provider", l)
	return u
}

func (u *UserProvider) validate(user *User) error {
	if u.Validator != nil {
		return u.Validator(user)
	}
	return nil
}

// VerifyCredentials finds the user by email and checks the password. Unknown
// emails and wrong passwords both return ErrInvalidCredentials, and unknown
// emails still pay for a hash comparison.
func (u *UserProvider) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	user, err := u.store.GetByEmail(ctx, email)
	if err != nil {
		if !IsNotFound(err) && !errors.IsNotFound(err) {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
		}
		u.burnComparison(password)
		return nil, ErrInvalidCredentials
	}

	ok, err := u.hasher.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		u.logger.Error("stored password hash is unusable", "user_id", user.ID.String(), "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if err := ensureAuthenticatableUser(user); err != nil {
		return nil, err
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	if err := u.store.TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	return user, nil
}

func (u *UserProvider) burnComparison(password string) {
	u.decoyOnce.Do(func() {
		hash, err := u.hasher.HashPassword(uuid.NewString())
		if err != nil {
			u.logger.Warn("could not build decoy password hash", "error", err)
			return
		}
		u.decoyHash = hash
	})
	if u.decoyHash != "" {
		_, _ = u.hasher.VerifyPassword(password, u.decoyHash)
	}
}

func ensureAuthenticatableUser(user *User) error {
	if user == nil || user.IsDeleted {
		return ErrInvalidCredentials
	}

	if !user.IsActive {
		return ErrAccountInactive
	}

	return nil
}
