package auth

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the stable, client facing identifier of an auth failure.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindInvalidCredentials ErrorKind = "invalid_credentials"
	ErrorKindAccountInactive    ErrorKind = "account_inactive"
	ErrorKindDuplicatePrincipal ErrorKind = "duplicate_principal"
	ErrorKindValidationFailed   ErrorKind = "validation_failed"
	ErrorKindTokenExpired       ErrorKind = "token_expired"
	ErrorKindTokenRevoked       ErrorKind = "token_revoked"
	ErrorKindTokenNotFound      ErrorKind = "token_not_found"
	ErrorKindTokenInvalid       ErrorKind = "token_invalid"
	ErrorKindPrincipalNotFound  ErrorKind = "principal_not_found"
	ErrorKindUnauthorized       ErrorKind = "unauthorized"
	ErrorKindForbidden          ErrorKind = "forbidden"
	ErrorKindRateLimited        ErrorKind = "rate_limited"
	ErrorKindInternal           ErrorKind = "internal"
)

const (
	TextCodeEmptyPassword  = "EMPTY_PASSWORD"
	TextCodeMalformedHash  = "MALFORMED_PASSWORD_HASH"
	TextCodeNotTrashed     = "RECORD_NOT_TRASHED"
	TextCodeRecordNotFound = "RECORD_NOT_FOUND"
)

// ErrInvalidCredentials is the single error returned for unknown emails and
// wrong passwords alike.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(string(ErrorKindInvalidCredentials)).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountInactive is returned when a deactivated principal tries to authenticate.
var ErrAccountInactive = goerrors.New("account is inactive", goerrors.CategoryAuth).
	WithTextCode(string(ErrorKindAccountInactive)).
	WithCode(goerrors.CodeUnauthorized)

// ErrDuplicatePrincipal is returned when a live principal already owns the username or email.
var ErrDuplicatePrincipal = goerrors.New("username or email already registered", goerrors.CategoryConflict).
	WithTextCode(string(ErrorKindDuplicatePrincipal)).
	WithCode(goerrors.CodeBadRequest)

// ErrValidationFailed is returned for malformed input.
var ErrValidationFailed = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(string(ErrorKindValidationFailed)).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned when a refresh token is past its expiry.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(string(ErrorKindTokenExpired)).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenRevoked is returned when a refresh token was revoked or already rotated.
var ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(string(ErrorKindTokenRevoked)).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenNotFound is returned when a refresh token value is unknown.
var ErrTokenNotFound = goerrors.New("token not found", goerrors.CategoryAuth).
	WithTextCode(string(ErrorKindTokenNotFound)).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid is the only error access token validation reports.
var ErrTokenInvalid = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(string(ErrorKindTokenInvalid)).
	WithCode(goerrors.CodeUnauthorized)

// ErrPrincipalNotFound is returned when a principal is missing or soft deleted.
var ErrPrincipalNotFound = goerrors.New("principal not found", goerrors.CategoryNotFound).
	WithTextCode(string(ErrorKindPrincipalNotFound)).
	WithCode(goerrors.CodeNotFound)

// ErrUnauthorized signals that the caller lacks the permission or ownership
// required by an operation. The HTTP boundary maps it to 403.
var ErrUnauthorized = goerrors.New("insufficient permissions", goerrors.CategoryAuthz).
	WithTextCode(string(ErrorKindUnauthorized)).
	WithCode(goerrors.CodeForbidden)

// ErrForbidden is returned when mutating a system role.
var ErrForbidden = goerrors.New("system roles cannot be modified", goerrors.CategoryAuthz).
	WithTextCode(string(ErrorKindForbidden)).
	WithCode(goerrors.CodeForbidden)

// ErrRateLimited is returned when a client exceeds the auth endpoint rate.
var ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithTextCode(string(ErrorKindRateLimited)).
	WithCode(http.StatusTooManyRequests)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMalformedHash signals a corrupted stored password hash.
var ErrMalformedHash = goerrors.New("stored password hash is malformed", goerrors.CategoryInternal).
	WithTextCode(TextCodeMalformedHash).
	WithCode(goerrors.CodeInternal)

// ErrRecordNotTrashed is returned when restoring a record that is not soft deleted.
var ErrRecordNotTrashed = goerrors.New("record is not deleted", goerrors.CategoryConflict).
	WithTextCode(TextCodeNotTrashed).
	WithCode(goerrors.CodeConflict)

// KindOf maps an error to its ErrorKind. Unknown errors map to ErrorKindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch kind := ErrorKind(richErr.TextCode); kind {
		case ErrorKindInvalidCredentials,
			ErrorKindAccountInactive,
			ErrorKindDuplicatePrincipal,
			ErrorKindValidationFailed,
			ErrorKindTokenExpired,
			ErrorKindTokenRevoked,
			ErrorKindTokenNotFound,
			ErrorKindTokenInvalid,
			ErrorKindPrincipalNotFound,
			ErrorKindUnauthorized,
			ErrorKindForbidden,
			ErrorKindRateLimited:
			return kind
		}
		if richErr.TextCode == TextCodeEmptyPassword {
			return ErrorKindValidationFailed
		}
	}

	return ErrorKindInternal
}

// IsKind reports whether err maps to kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// validationError clones ErrValidationFailed with a specific message.
func validationError(message string, metadata map[string]any) error {
	clone := ErrValidationFailed.Clone()
	if clone == nil {
		return ErrValidationFailed
	}
	if message != "" {
		clone.Message = message
	}
	if len(metadata) > 0 {
		clone.WithMetadata(metadata)
	}
	return clone
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, ErrorKindTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}
