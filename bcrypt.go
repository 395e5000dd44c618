package auth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordCost is the lowest bcrypt work factor we accept.
const MinPasswordCost = 10

// BcryptHasher is the credential store. It is the only component that ever
// sees plaintext passwords.
type BcryptHasher struct {
	cost int
}

var _ PasswordAuthenticator = (*BcryptHasher)(nil)

// NewBcryptHasher returns a hasher with the given cost, clamped to
// [MinPasswordCost, bcrypt.MaxCost]. Zero uses the build default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = passwordHashCost()
	}
	if cost < MinPasswordCost {
		cost = MinPasswordCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the configured work factor
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// HashPassword will generate a password hash
func (h *BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "unable to hash password")
	}
	return string(out), nil
}

// VerifyPassword reports whether password matches hash. A mismatch is not an
// error; only a corrupted hash is.
func (h *BcryptHasher) VerifyPassword(password, hash string) (bool, error) {
	// bcrypt only reads 72 bytes; nothing longer was ever hashed
	if len(password) > maxPasswordLength {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		clone := ErrMalformedHash.Clone()
		if clone == nil {
			return false, ErrMalformedHash
		}
		clone.Source = err
		return false, clone
	}
}

// HashPassword hashes with the build default cost
func HashPassword(password string) (string, error) {
	return NewBcryptHasher(0).HashPassword(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	ok, err := NewBcryptHasher(0).VerifyPassword(password, hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// RandomPasswordHash returns the hash of a random value. It is used as a
// decoy when no stored hash exists so comparisons take the same time.
func RandomPasswordHash(cost int) string {
	h, err := NewBcryptHasher(cost).HashPassword(uuid.NewString())
	if err != nil {
		return RandomPasswordHash(cost)
	}
	return h
}
