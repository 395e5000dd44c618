package auth

import (
	"errors"

	"github.com/goliatone/go-blog-auth/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Success bool           `json:"success"`
	Error   ErrorKind      `json:"error"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// StatusForKind maps an error kind to the HTTP status used at the boundary
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case ErrorKindValidationFailed, ErrorKindDuplicatePrincipal:
		return router.StatusBadRequest
	case ErrorKindInvalidCredentials,
		ErrorKindAccountInactive,
		ErrorKindTokenExpired,
		ErrorKindTokenRevoked,
		ErrorKindTokenNotFound,
		ErrorKindTokenInvalid:
		return router.StatusUnauthorized
	case ErrorKindUnauthorized, ErrorKindForbidden:
		return router.StatusForbidden
	case ErrorKindPrincipalNotFound:
		return router.StatusNotFound
	case ErrorKindRateLimited:
		return router.StatusTooManyRequests
	default:
		return router.StatusInternalServerError
	}
}

func newErrorResponse(kind ErrorKind, message string) ErrorResponse {
	if message == "" {
		message = string(kind)
	}
	return ErrorResponse{Success: false, Error: kind, Message: message}
}

// writeError renders err with the status its kind maps to. Internal errors
// never leak their message.
func writeError(c router.Context, err error) error {
	kind := KindOf(err)
	resp := newErrorResponse(kind, messageFor(kind, err))

	var richErr *goerrors.Error
	if kind == ErrorKindValidationFailed && goerrors.As(err, &richErr) {
		if fields, ok := richErr.Metadata["fields"].(map[string]any); ok {
			resp.Fields = fields
		}
	}

	return c.JSON(StatusForKind(kind), resp)
}

// writeResult renders a failed AuthResult using failStatus, or the kind's own
// status when failStatus is zero.
func writeResult(c router.Context, res AuthResult, failStatus int) error {
	if res.Success {
		return c.JSON(router.StatusOK, res)
	}
	status := failStatus
	if status == 0 || res.Error == ErrorKindInternal || res.Error == ErrorKindRateLimited {
		status = StatusForKind(res.Error)
	}
	return c.JSON(status, newErrorResponse(res.Error, res.Message))
}

// BearerErrorHandler renders jwtware failures with the auth error envelope
func BearerErrorHandler(logger Logger) router.ErrorHandler {
	logger = resolveLogger("http", logger)
	return func(c router.Context, err error) error {
		if errors.Is(err, jwtware.ErrAccessDenied) {
			logger.Debug("bearer role check failed", "path", c.Path(), "error", err)
			return writeError(c, ErrUnauthorized)
		}

		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			richErr = ErrTokenInvalid
		}

		logger.Debug("bearer authentication failed",
			"path", c.Path(),
			"text_code", richErr.TextCode,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
		return writeError(c, ErrTokenInvalid)
	}
}

// ProtectedRoute returns bearer middleware validating access tokens with validator
func ProtectedRoute(validator TokenValidator, logger Logger, opts ...func(*jwtware.Config)) router.MiddlewareFunc {
	cfg := jwtware.Config{
		TokenValidator:  jwtValidatorAdapter{validator},
		ErrorHandler:    BearerErrorHandler(logger),
		ContextKey:      ClaimsLocalsKey,
		TokenLookup:     "header:" + router.HeaderAuthorization,
		AuthScheme:      "Bearer",
		ContextEnricher: ContextEnricherAdapter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return jwtware.New(cfg)
}

type jwtValidatorAdapter struct {
	validator TokenValidator
}

func (a jwtValidatorAdapter) Validate(token string) (jwtware.AuthClaims, error) {
	claims, err := a.validator.Validate(token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
