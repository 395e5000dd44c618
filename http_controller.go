package auth

import (
	"context"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// ClaimsLocalsKey is the locals key the bearer middleware stores claims under
const ClaimsLocalsKey = "user"

// Authenticator is the set of workflows the HTTP surface consumes
type Authenticator interface {
	Register(ctx context.Context, req RegisterRequest) (AuthResult, error)
	Login(ctx context.Context, req LoginRequest) (AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (AuthResult, error)
	Revoke(ctx context.Context, principalID uuid.UUID, refreshToken string) (AuthResult, error)
	RevokeAll(ctx context.Context, principalID uuid.UUID) (int64, error)
	ChangePassword(ctx context.Context, principalID uuid.UUID, req ChangePasswordRequest) (AuthResult, error)
	TokenValidator() TokenValidator
}

var _ Authenticator = (*Auther)(nil)

// AuthControllerRoutes holds the endpoint paths relative to the mount point
type AuthControllerRoutes struct {
	Register       string
	Login          string
	Refresh        string
	Revoke         string
	RevokeAll      string
	Validate       string
	ChangePassword string
}

// DefaultRoutes returns the /api/auth paths
func DefaultRoutes() *AuthControllerRoutes {
	return &AuthControllerRoutes{
		Register:       "/api/auth/register",
		Login:          "/api/auth/login",
		Refresh:        "/api/auth/refresh",
		Revoke:         "/api/auth/revoke",
		RevokeAll:      "/api/auth/revoke-all",
		Validate:       "/api/auth/validate",
		ChangePassword: "/api/auth/change-password",
	}
}

type AuthController struct {
	Debug   bool
	Logger  Logger
	Auther  Authenticator
	Routes  *AuthControllerRoutes
	Limiter *ClientLimiter
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger sets the controller logger
func WithControllerLogger(l Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = resolveLogger("http", l)
		return c
	}
}

// WithRateLimiter throttles the unauthenticated endpoints
func WithRateLimiter(l *ClientLimiter) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Limiter = l
		return c
	}
}

// WithRoutes overrides the endpoint paths
func WithRoutes(r *AuthControllerRoutes) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if r != nil {
			c.Routes = r
		}
		return c
	}
}

// WithDebug dumps request payloads, with secrets removed, at debug level
func WithDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(auther Authenticator, opts ...AuthControllerOption) *AuthController {
	if auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	c := &AuthController{
		Logger: defaultLogger("http"),
		Auther: auther,
		Routes: DefaultRoutes(),
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// RegisterRoutes mounts the auth endpoints on app
func RegisterRoutes[T any](app router.Router[T], controller *AuthController) {
	public := []router.MiddlewareFunc{}
	if controller.Limiter != nil {
		public = append(public, controller.Limiter.Middleware())
	}
	bearer := ProtectedRoute(controller.Auther.TokenValidator(), controller.Logger)

	app.Post(controller.Routes.Register, controller.Register, public...).
		SetName("auth.register")
	app.Post(controller.Routes.Login, controller.Login, public...).
		SetName("auth.login")
	app.Post(controller.Routes.Refresh, controller.Refresh, public...).
		SetName("auth.refresh")

	app.Post(controller.Routes.Revoke, controller.Revoke, bearer).
		SetName("auth.revoke")
	app.Post(controller.Routes.RevokeAll, controller.RevokeAll, bearer).
		SetName("auth.revoke-all")
	app.Post(controller.Routes.Validate, controller.Validate, bearer).
		SetName("auth.validate")
	app.Post(controller.Routes.ChangePassword, controller.ChangePassword, bearer).
		SetName("auth.change-password")
}

func (a *AuthController) Register(c router.Context) error {
	payload := new(RegisterRequest)
	if err := c.Bind(payload); err != nil {
		return writeError(c, validationError("malformed request body", nil))
	}

	if a.Debug {
		safe := *payload
		safe.Password, safe.ConfirmPassword = "", ""
		a.Logger.Debug("register request", "payload", print.MaybePrettyJSON(safe))
	}

	res, err := a.Auther.Register(c.Context(), *payload)
	if err != nil {
		a.Logger.Error("register failed", "error", err)
	}
	return writeResult(c, res, router.StatusBadRequest)
}

func (a *AuthController) Login(c router.Context) error {
	payload := new(LoginRequest)
	if err := c.Bind(payload); err != nil {
		return writeResult(c, Failed(ErrorKindInvalidCredentials, ErrInvalidCredentials.Message), router.StatusUnauthorized)
	}

	if a.Debug {
		a.Logger.Debug("login request", "email", payload.Email, "remember_me", payload.RememberMe)
	}

	res, err := a.Auther.Login(c.Context(), *payload)
	if err != nil {
		a.Logger.Error("login failed", "error", err)
	}
	return writeResult(c, res, router.StatusUnauthorized)
}

func (a *AuthController) Refresh(c router.Context) error {
	payload := new(RefreshRequest)
	if err := c.Bind(payload); err != nil || payload.Validate() != nil {
		return writeResult(c, Failed(ErrorKindTokenNotFound, ErrTokenNotFound.Message), router.StatusUnauthorized)
	}

	res, err := a.Auther.Refresh(c.Context(), payload.RefreshToken)
	if err != nil {
		a.Logger.Error("refresh failed", "error", err)
	}
	return writeResult(c, res, router.StatusUnauthorized)
}

func (a *AuthController) Revoke(c router.Context) error {
	principalID, err := a.principalID(c)
	if err != nil {
		return writeError(c, err)
	}

	payload := new(RefreshRequest)
	if err := c.Bind(payload); err != nil {
		return writeError(c, validationError("malformed request body", nil))
	}
	if err := payload.Validate(); err != nil {
		return writeError(c, asValidationError(err))
	}

	res, err := a.Auther.Revoke(c.Context(), principalID, payload.RefreshToken)
	if err != nil {
		a.Logger.Error("revoke failed", "error", err)
	}
	return writeResult(c, res, router.StatusBadRequest)
}

func (a *AuthController) RevokeAll(c router.Context) error {
	principalID, err := a.principalID(c)
	if err != nil {
		return writeError(c, err)
	}

	n, err := a.Auther.RevokeAll(c.Context(), principalID)
	if err != nil {
		a.Logger.Error("revoke all failed", "error", err)
		return writeError(c, err)
	}

	return c.JSON(router.StatusOK, map[string]any{
		"success": true,
		"revoked": n,
	})
}

func (a *AuthController) Validate(c router.Context) error {
	claims, ok := ClaimsFromLocals(c)
	if !ok {
		return writeError(c, ErrTokenInvalid)
	}

	return c.JSON(router.StatusOK, map[string]any{
		"valid":    true,
		"userId":   claims.UserID(),
		"username": claims.Username(),
	})
}

func (a *AuthController) ChangePassword(c router.Context) error {
	principalID, err := a.principalID(c)
	if err != nil {
		return writeError(c, err)
	}

	payload := new(ChangePasswordRequest)
	if err := c.Bind(payload); err != nil {
		return writeError(c, validationError("malformed request body", nil))
	}

	res, err := a.Auther.ChangePassword(c.Context(), principalID, *payload)
	if err != nil {
		a.Logger.Error("change password failed", "error", err)
	}
	return writeResult(c, res, 0)
}

func (a *AuthController) principalID(c router.Context) (uuid.UUID, error) {
	claims, ok := ClaimsFromLocals(c)
	if !ok {
		return uuid.Nil, ErrTokenInvalid
	}
	id, err := claims.PrincipalID()
	if err != nil {
		a.Logger.Warn("access token subject is not a uuid", "subject", strings.TrimSpace(claims.Subject()))
		return uuid.Nil, ErrTokenInvalid
	}
	return id, nil
}
