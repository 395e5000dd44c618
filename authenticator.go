package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthResult is the uniform outcome of every auth workflow. Expected
// failures set Error and leave Success false; they are not Go errors.
type AuthResult struct {
	Success          bool               `json:"success"`
	AccessToken      string             `json:"accessToken,omitempty"`
	RefreshToken     string             `json:"refreshToken,omitempty"`
	ExpiresAt        time.Time          `json:"expiresAt,omitzero"`
	RefreshExpiresAt time.Time          `json:"refreshExpiresAt,omitzero"`
	User             *PrincipalSnapshot `json:"user,omitempty"`
	Error            ErrorKind          `json:"error,omitempty"`
	Message          string             `json:"message,omitempty"`
}

// Failed builds an unsuccessful result
func Failed(kind ErrorKind, message string) AuthResult {
	return AuthResult{
		Success: false,
		Error:   kind,
		Message: message,
	}
}

// Auther coordinates credential checks, RBAC resolution, token minting and
// the refresh ledger.
type Auther struct {
	repo               RepositoryManager
	hasher             PasswordAuthenticator
	tokens             TokenIssuer
	rbac               *RBACEvaluator
	users              *UserProvider
	defaultRole        string
	extendedRefreshTTL time.Duration
	logger             Logger
	activitySink       ActivitySink
	clock              func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, tokens TokenIssuer, opts Config) *Auther {
	hasher := NewBcryptHasher(opts.GetPasswordCost())
	a := &Auther{
		repo:               repo,
		hasher:             hasher,
		tokens:             tokens,
		rbac:               NewRBACEvaluator(repo.Roles(), repo.Permissions()),
		users:              NewUserProvider(repo.Users(), hasher),
		defaultRole:        opts.GetDefaultRole(),
		extendedRefreshTTL: opts.GetExtendedRefreshTokenTTL(),
		logger:             defaultLogger("auther"),
		activitySink:       sinkOrDiscard(nil),
		clock:              defaultClock,
	}
	return a
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = resolveLogger("auther", logger)
	s.rbac.WithLogger(logger)
	s.users.WithLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = sinkOrDiscard(sink)
	return s
}

// WithPasswordAuthenticator replaces the credential store
func (s *Auther) WithPasswordAuthenticator(hasher PasswordAuthenticator) *Auther {
	if hasher != nil {
		s.hasher = hasher
		s.users = NewUserProvider(s.repo.Users(), hasher).WithLogger(s.logger)
	}
	return s
}

// WithRBACEvaluator replaces the evaluator
func (s *Auther) WithRBACEvaluator(rbac *RBACEvaluator) *Auther {
	if rbac != nil {
		s.rbac = rbac
	}
	return s
}

// WithClock sets the time source for events
func (s *Auther) WithClock(clock func() time.Time) *Auther {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// RBAC returns the evaluator used by the authenticator
func (s *Auther) RBAC() *RBACEvaluator {
	return s.rbac
}

// TokenValidator returns the access token validator
func (s *Auther) TokenValidator() TokenValidator {
	return s.tokens
}

// Register creates a principal with the default role and issues a token pair.
// All writes happen in one transaction.
func (s *Auther) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	if err := req.Validate(); err != nil {
		return s.fail(ctx, ActivityEventRegister, "", asValidationError(err))
	}

	phone := ""
	if strings.TrimSpace(req.Phone) != "" {
		normalized, err := NormalizePhone(req.Phone)
		if err != nil {
			return s.fail(ctx, ActivityEventRegister, "", validationError("invalid phone number", nil))
		}
		phone = normalized
	}

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return s.fail(ctx, ActivityEventRegister, "", err)
	}

	user := &User{
		Username:       strings.TrimSpace(req.Username),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Phone:          phone,
		PasswordHash:   hash,
		IsActive:       true,
		EmailConfirmed: false,
	}

	var result AuthResult
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		users := s.repo.Users().WithTx(tx)

		taken, err := users.IsTaken(ctx, user.Username, user.Email)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicatePrincipal
		}

		if _, err := users.Register(ctx, user); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicatePrincipal
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}

		if s.defaultRole != "" {
			if err := assignRoleTx(ctx, s.repo, tx, user.ID, s.defaultRole); err != nil {
				if !IsNotFound(err) {
					return err
				}
				s.logger.Warn("default role missing, user registered without roles", "role", s.defaultRole)
			}
		}

		result, err = s.issuePair(ctx, tx, user)
		return err
	})
	if err != nil {
		return s.fail(ctx, ActivityEventRegister, "", err)
	}

	s.emit(ctx, ActivityEventRegister, user.ID.String(), ErrorKindNone, map[string]any{
		"username": user.Username,
	})
	return result, nil
}

// Login verifies email and password and issues a token pair. RememberMe
// selects the extended refresh token lifetime.
func (s *Auther) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	if err := req.Validate(); err != nil {
		return s.fail(ctx, ActivityEventLoginFailure, "", ErrInvalidCredentials)
	}

	user, err := s.users.VerifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		return s.fail(ctx, ActivityEventLoginFailure, "", err)
	}

	var opts []IssueOption
	if req.RememberMe && s.extendedRefreshTTL > 0 {
		opts = append(opts, WithTTL(s.extendedRefreshTTL))
	}

	var result AuthResult
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = s.issuePair(ctx, tx, user, opts...)
		return err
	})
	if err != nil {
		return s.fail(ctx, ActivityEventLoginFailure, user.ID.String(), err)
	}

	s.emit(ctx, ActivityEventLoginSuccess, user.ID.String(), ErrorKindNone, map[string]any{
		"remember_me": req.RememberMe,
	})
	return result, nil
}

// Refresh redeems a refresh token and issues a new pair in the same
// transaction. If anything after the redemption fails the redemption is
// rolled back with it.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return s.fail(ctx, ActivityEventRefreshFailure, "", ErrTokenNotFound)
	}

	var result AuthResult
	var userID string
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ledger := s.repo.RefreshTokens().WithTx(tx)

		redeemed, err := ledger.Redeem(ctx, refreshToken)
		if err != nil {
			return err
		}
		userID = redeemed.UserID.String()

		user, err := s.repo.Users().WithTx(tx).Get(ctx, redeemed.UserID)
		if err != nil {
			if IsNotFound(err) {
				return ErrPrincipalNotFound
			}
			return err
		}
		if !user.IsActive {
			return ErrAccountInactive
		}

		result, err = s.issuePair(ctx, tx, user,
			WithReplacing(redeemed.ID),
			WithExpiresAt(redeemed.ExpiresAt),
		)
		return err
	})
	if err != nil {
		return s.fail(ctx, ActivityEventRefreshFailure, userID, err)
	}

	s.emit(ctx, ActivityEventRefreshSuccess, userID, ErrorKindNone, nil)
	return result, nil
}

// Revoke logs out a single session. The token must belong to principalID.
func (s *Auther) Revoke(ctx context.Context, principalID uuid.UUID, refreshToken string) (AuthResult, error) {
	ledger := s.repo.RefreshTokens()

	record, err := ledger.Lookup(ctx, refreshToken)
	if err != nil {
		return s.fail(ctx, ActivityEventRevoke, principalID.String(), err)
	}
	if record.UserID != principalID {
		s.logger.Warn("refresh token revoke by non owner", "user_id", principalID.String())
		return s.fail(ctx, ActivityEventRevoke, principalID.String(), ErrTokenNotFound)
	}

	if err := ledger.Revoke(ctx, refreshToken); err != nil {
		return s.fail(ctx, ActivityEventRevoke, principalID.String(), err)
	}

	s.emit(ctx, ActivityEventRevoke, principalID.String(), ErrorKindNone, nil)
	return AuthResult{Success: true, Message: "token revoked"}, nil
}

// RevokeAll logs out every session of principalID
func (s *Auther) RevokeAll(ctx context.Context, principalID uuid.UUID) (int64, error) {
	n, err := s.repo.RefreshTokens().RevokeAll(ctx, principalID)
	if err != nil {
		return 0, err
	}
	s.emit(ctx, ActivityEventRevokeAll, principalID.String(), ErrorKindNone, map[string]any{
		"revoked": n,
	})
	return n, nil
}

// ValidateToken checks an access token without touching storage
func (s *Auther) ValidateToken(token string) (AuthClaims, error) {
	return s.tokens.Validate(strings.TrimSpace(token))
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every refresh token of the principal.
func (s *Auther) ChangePassword(ctx context.Context, principalID uuid.UUID, req ChangePasswordRequest) (AuthResult, error) {
	if err := req.Validate(); err != nil {
		return s.fail(ctx, ActivityEventPasswordChanged, principalID.String(), asValidationError(err))
	}

	user, err := s.repo.Users().Get(ctx, principalID)
	if err != nil {
		if IsNotFound(err) {
			return s.fail(ctx, ActivityEventPasswordChanged, principalID.String(), ErrPrincipalNotFound)
		}
		return s.fail(ctx, ActivityEventPasswordChanged, principalID.String(), err)
	}

	ok, err := s.hasher.VerifyPassword(req.CurrentPassword, user.PasswordHash)
	if err != nil || !ok {
		return s.fail(ctx, ActivityEventPasswordChanged, principalID.String(), ErrInvalidCredentials)
	}

	hash, err := s.hasher.HashPassword(req.NewPassword)
	if err != nil {
		return s.fail(ctx, ActivityEventPasswordChanged, principalID.String(), err)
	}

	var revoked int64
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.Users().WithTx(tx).UpdatePassword(ctx, principalID, hash); err != nil {
			return err
		}
		n, err := s.repo.RefreshTokens().WithTx(tx).RevokeAll(ctx, principalID)
		revoked = n
		return err
	})
	if err != nil {
		return s.fail(ctx, ActivityEventPasswordChanged, principalID.String(), err)
	}

	s.emit(ctx, ActivityEventPasswordChanged, principalID.String(), ErrorKindNone, map[string]any{
		"revoked": revoked,
	})
	return AuthResult{Success: true, Message: "password changed"}, nil
}

// Deactivate blocks login and refresh for principalID and revokes its tokens
func (s *Auther) Deactivate(ctx context.Context, principalID uuid.UUID) error {
	return s.setActive(ctx, principalID, false)
}

// Reactivate allows a deactivated principal to log in again
func (s *Auther) Reactivate(ctx context.Context, principalID uuid.UUID) error {
	return s.setActive(ctx, principalID, true)
}

func (s *Auther) setActive(ctx context.Context, principalID uuid.UUID, active bool) error {
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.Users().WithTx(tx).SetActive(ctx, principalID, active); err != nil {
			if IsNotFound(err) {
				return ErrPrincipalNotFound
			}
			return err
		}
		if active {
			return nil
		}
		_, err := s.repo.RefreshTokens().WithTx(tx).RevokeAll(ctx, principalID)
		return err
	})
	if err != nil {
		return err
	}

	s.emit(ctx, ActivityEventUserStatusChanged, principalID.String(), ErrorKindNone, map[string]any{
		"active": active,
	})
	return nil
}

// DeletePrincipal soft deletes principalID and revokes its tokens
func (s *Auther) DeletePrincipal(ctx context.Context, principalID uuid.UUID) error {
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.Users().WithTx(tx).SoftDeleteByID(ctx, principalID); err != nil {
			if IsNotFound(err) {
				return ErrPrincipalNotFound
			}
			return err
		}
		_, err := s.repo.RefreshTokens().WithTx(tx).RevokeAll(ctx, principalID)
		return err
	})
	if err != nil {
		return err
	}

	s.emit(ctx, ActivityEventUserDeleted, principalID.String(), ErrorKindNone, nil)
	return nil
}

// RestorePrincipal undoes DeletePrincipal. It fails with ErrDuplicatePrincipal
// when a live principal took the username or email in the meantime.
func (s *Auther) RestorePrincipal(ctx context.Context, principalID uuid.UUID) (*User, error) {
	var restored *User
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		users := s.repo.Users().WithTx(tx)

		trashed, err := users.GetTrashedByID(ctx, principalID)
		if err != nil {
			if IsNotFound(err) {
				if live, lerr := users.Exists(ctx, principalID); lerr == nil && live {
					return ErrRecordNotTrashed
				}
				return ErrPrincipalNotFound
			}
			return err
		}

		taken, err := users.IsTaken(ctx, trashed.Username, trashed.Email)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicatePrincipal
		}

		restored, err = users.RestoreByID(ctx, principalID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventUserRestored, principalID.String(), ErrorKindNone, nil)
	return restored, nil
}

func (s *Auther) issuePair(ctx context.Context, tx bun.IDB, user *User, opts ...IssueOption) (AuthResult, error) {
	snapshot, err := s.rbac.WithTx(tx).Snapshot(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}

	access, expiresAt, err := s.tokens.Generate(snapshot)
	if err != nil {
		return AuthResult{}, err
	}

	refresh, record, err := s.repo.RefreshTokens().WithTx(tx).Issue(ctx, user.ID, opts...)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		Success:          true,
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: record.ExpiresAt,
		User:             &snapshot,
	}, nil
}

// fail converts err into a failed result. Expected auth failures return a nil
// error; anything else is reported as internal and returned.
func (s *Auther) fail(ctx context.Context, event ActivityEventType, userID string, err error) (AuthResult, error) {
	kind := KindOf(err)
	message := messageFor(kind, err)

	if kind == ErrorKindInternal {
		s.logger.Error("auth workflow failed", "event", string(event), "user_id", userID, "error", err)
		s.emit(ctx, event, userID, kind, nil)
		return Failed(kind, message), err
	}

	s.logger.Debug("auth workflow rejected", "event", string(event), "user_id", userID, "kind", string(kind))
	s.emit(ctx, event, userID, kind, nil)
	return Failed(kind, message), nil
}

func messageFor(kind ErrorKind, err error) string {
	switch kind {
	case ErrorKindInternal:
		return "internal error"
	case ErrorKindInvalidCredentials:
		return ErrInvalidCredentials.Message
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return string(kind)
}

func (s *Auther) emit(ctx context.Context, eventType ActivityEventType, userID string, outcome ErrorKind, metadata map[string]any) {
	sink := sinkOrDiscard(s.activitySink)
	event := ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		Outcome:    outcome,
		Metadata:   metadata,
		OccurredAt: s.clock(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error", "error", err)
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
