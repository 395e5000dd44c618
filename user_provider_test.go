package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingHasher wraps the bcrypt hasher and counts comparisons
type countingHasher struct {
	*BcryptHasher
	verifies int
}

func (h *countingHasher) VerifyPassword(password, hash string) (bool, error) {
	h.verifies++
	return h.BcryptHasher.VerifyPassword(password, hash)
}

type failingLookup struct{}

func (failingLookup) GetByEmail(context.Context, string) (*User, error) {
	return nil, errors.New("connection reset")
}

func (failingLookup) TrackSuccessfulLogin(context.Context, *User) error { return nil }

func TestUserProvider_VerifyCredentials(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := createTestUser(t, repo, "alice", "alice@example.com", "correct-horse")

	hasher := &countingHasher{BcryptHasher: NewBcryptHasher(MinPasswordCost)}
	provider := NewUserProvider(repo.Users(), hasher).WithLogger(NopLogger())

	user, err := provider.VerifyCredentials(ctx, "Alice@Example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	assert.NotNil(t, user.LastLoginAt)

	_, err = provider.VerifyCredentials(ctx, "alice@example.com", "wrong-horse")
	assert.Equal(t, ErrInvalidCredentials, err)

	before := hasher.verifies
	_, err = provider.VerifyCredentials(ctx, "nobody@example.com", "correct-horse")
	assert.Equal(t, ErrInvalidCredentials, err)
	assert.Equal(t, before+1, hasher.verifies, "unknown emails still pay for a comparison")
}

func TestUserProvider_InactiveAndCustomValidator(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := createTestUser(t, repo, "alice", "alice@example.com", "correct-horse")

	provider := NewUserProvider(repo.Users(), NewBcryptHasher(MinPasswordCost)).WithLogger(NopLogger())
	provider.Validator = func(u *User) error {
		if !u.EmailConfirmed {
			return ErrAccountInactive
		}
		return nil
	}

	_, err := provider.VerifyCredentials(ctx, "alice@example.com", "correct-horse")
	assert.Equal(t, ErrAccountInactive, err)

	provider.Validator = nil
	require.NoError(t, repo.Users().SetActive(ctx, alice.ID, false))
	_, err = provider.VerifyCredentials(ctx, "alice@example.com", "wrong-horse")
	assert.Equal(t, ErrInvalidCredentials, err, "the password is checked before the account state")

	_, err = provider.VerifyCredentials(ctx, "alice@example.com", "correct-horse")
	assert.Equal(t, ErrAccountInactive, err)
}

func TestUserProvider_LookupFailureIsInternal(t *testing.T) {
	provider := NewUserProvider(failingLookup{}, NewBcryptHasher(MinPasswordCost)).WithLogger(NopLogger())

	_, err := provider.VerifyCredentials(context.Background(), "alice@example.com", "correct-horse")
	require.Error(t, err)
	assert.Equal(t, ErrorKindInternal, KindOf(err))
}
