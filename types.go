package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Logger is the structured logger used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningKeyID() string
	GetRetiredSigningKeys() map[string]string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetExtendedRefreshTokenTTL() time.Duration
	GetDefaultRole() string
	GetPasswordCost() int
}

// PasswordAuthenticator hashes and verifies passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, hash string) (bool, error)
}

// TokenValidator turns a raw access token into claims. Every failure is
// reported as ErrTokenInvalid.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenIssuer mints and validates signed access tokens.
type TokenIssuer interface {
	TokenValidator
	Generate(principal PrincipalSnapshot) (string, time.Time, error)
}

// RefreshLedger persists refresh tokens and enforces single use rotation.
type RefreshLedger interface {
	Issue(ctx context.Context, principalID uuid.UUID, opts ...IssueOption) (string, *RefreshToken, error)
	Redeem(ctx context.Context, value string) (*RefreshToken, error)
	Revoke(ctx context.Context, value string) error
	RevokeAll(ctx context.Context, principalID uuid.UUID) (int64, error)
	Lookup(ctx context.Context, value string) (*RefreshToken, error)
	ActiveFor(ctx context.Context, principalID uuid.UUID) ([]*RefreshToken, error)
	CleanupExpired(ctx context.Context) (int64, error)
	TTL() time.Duration
	WithTx(tx bun.IDB) RefreshLedger
}

var _ Logger = glog.Logger(nil)

func defaultLogger(name string) Logger {
	base := glog.NewLogger(
		glog.WithName("auth"),
		glog.WithLoggerTypePretty(),
	)
	return base.GetLogger(name)
}

func resolveLogger(name string, logger Logger) Logger {
	if logger == nil {
		return defaultLogger(name)
	}
	return logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}
