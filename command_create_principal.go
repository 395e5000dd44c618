package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// CreatePrincipalMessage creates an account outside the registration flow,
// typically the bootstrap administrator.
type CreatePrincipalMessage struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	Password  string `json:"password"`
	// UseHashid derives the principal ID from the email so repeated runs
	// target the same record.
	UseHashid bool `json:"use_hashid"`
	// IfMissing turns a duplicate into a no-op.
	IfMissing bool `json:"if_missing"`
}

func (e CreatePrincipalMessage) Type() string { return "principal.create" }

type CreatePrincipalHandler struct {
	repo   RepositoryManager
	hasher PasswordAuthenticator
	logger Logger
}

func NewCreatePrincipalHandler(repo RepositoryManager, hasher PasswordAuthenticator) *CreatePrincipalHandler {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &CreatePrincipalHandler{
		repo:   repo,
		hasher: hasher,
		logger: defaultLogger("create_principal"),
	}
}

func (h *CreatePrincipalHandler) WithLogger(logger Logger) *CreatePrincipalHandler {
	h.logger = resolveLogger("create_principal", logger)
	return h
}

func (h *CreatePrincipalHandler) Execute(ctx context.Context, event CreatePrincipalMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during principal creation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreatePrincipalHandler) execute(ctx context.Context, event CreatePrincipalMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	phone := ""
	if strings.TrimSpace(event.Phone) != "" {
		if phone, err = NormalizePhone(event.Phone); err != nil {
			return validationError("invalid phone number", map[string]any{"phone": event.Phone})
		}
	}

	user := &User{
		PasswordHash: hash,
		Email:        strings.ToLower(strings.TrimSpace(event.Email)),
		Phone:        phone,
		FirstName:    event.FirstName,
		LastName:     event.LastName,
		Username:     getUsername(event.Username, event.Email),
		IsActive:     true,
	}
	if event.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		users := h.repo.Users().WithTx(tx)

		taken, err := users.IsTaken(ctx, user.Username, user.Email)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicatePrincipal
		}

		if _, err = users.Register(ctx, user); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicatePrincipal
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create principal")
		}

		if event.Role != "" {
			return assignRoleTx(ctx, h.repo, tx, user.ID, event.Role)
		}
		return nil
	})

	if err != nil {
		if event.IfMissing && IsKind(err, ErrorKindDuplicatePrincipal) {
			h.logger.Debug("principal already exists, skipping", "username", user.Username)
			return nil
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "principal creation transaction failed")
	}

	h.logger.Info("principal created", "user_id", user.ID.String(), "username", user.Username, "role", event.Role)
	return nil
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
