package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	// DefaultRefreshTokenTTL is used when no TTL is configured
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	refreshTokenBytes = 32
)

// Reasons recorded on revoked ledger entries
const (
	RevokedReasonRotated   = "rotated"
	RevokedReasonLogout    = "logout"
	RevokedReasonRevokeAll = "revoke_all"
)

// IssueOption customises a single Issue call
type IssueOption func(*issueOptions)

type issueOptions struct {
	ttl       time.Duration
	expiresAt time.Time
	replaces  uuid.UUID
}

// WithTTL overrides the ledger TTL for one token, e.g. remember me sessions
func WithTTL(ttl time.Duration) IssueOption {
	return func(o *issueOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithExpiresAt pins the absolute expiry of one token and takes precedence
// over any TTL. Rotation uses it so a session never outlives its login.
func WithExpiresAt(at time.Time) IssueOption {
	return func(o *issueOptions) {
		o.expiresAt = at
	}
}

// WithReplacing records that the new token replaces a rotated one
func WithReplacing(id uuid.UUID) IssueOption {
	return func(o *issueOptions) {
		o.replaces = id
	}
}

// LedgerOption configures a RefreshTokenLedger
type LedgerOption func(*RefreshTokenLedger)

// WithLedgerClock sets the ledger time source
func WithLedgerClock(clock func() time.Time) LedgerOption {
	return func(l *RefreshTokenLedger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLedgerLogger sets the ledger logger
func WithLedgerLogger(logger Logger) LedgerOption {
	return func(l *RefreshTokenLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLedgerRandom sets the entropy source for token values
func WithLedgerRandom(r io.Reader) LedgerOption {
	return func(l *RefreshTokenLedger) {
		if r != nil {
			l.random = r
		}
	}
}

// RefreshTokenLedger stores refresh tokens and enforces single use rotation.
type RefreshTokenLedger struct {
	db     bun.IDB
	store  *LifecycleStore[*RefreshToken]
	ttl    time.Duration
	clock  func() time.Time
	random io.Reader
	logger Logger
}

var _ RefreshLedger = (*RefreshTokenLedger)(nil)

// NewRefreshTokenLedger creates a ledger. A non positive ttl uses DefaultRefreshTokenTTL.
func NewRefreshTokenLedger(db *bun.DB, ttl time.Duration, opts ...LedgerOption) *RefreshTokenLedger {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	l := &RefreshTokenLedger{
		db:     db,
		ttl:    ttl,
		clock:  defaultClock,
		random: rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = resolveLogger("refresh_tokens", l.logger)
	l.store = NewStore(db, StoreHandlers[*RefreshToken]{
		NewRecord: func() *RefreshToken { return &RefreshToken{} },
	}, WithStoreClock(l.clock))
	return l
}

// WithTx returns a ledger bound to tx
func (l *RefreshTokenLedger) WithTx(tx bun.IDB) RefreshLedger {
	if tx == nil {
		return l
	}
	clone := *l
	clone.db = tx
	clone.store = l.store.WithTx(tx)
	return &clone
}

// TTL returns the default token lifetime
func (l *RefreshTokenLedger) TTL() time.Duration {
	return l.ttl
}

// Issue creates a new active token for principalID and returns its opaque
// value. The value is never stored.
func (l *RefreshTokenLedger) Issue(ctx context.Context, principalID uuid.UUID, opts ...IssueOption) (string, *RefreshToken, error) {
	o := &issueOptions{ttl: l.ttl}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	value, err := l.newValue()
	if err != nil {
		return "", nil, err
	}

	expiresAt := o.expiresAt
	if expiresAt.IsZero() {
		expiresAt = l.clock().Add(o.ttl)
	}
	record := &RefreshToken{
		TokenHash: HashRefreshToken(value),
		UserID:    principalID,
		ExpiresAt: expiresAt,
	}

	if _, err := l.store.Add(ctx, record); err != nil {
		return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh token")
	}

	if o.replaces != uuid.Nil {
		_, err := l.db.NewUpdate().
			Model((*RefreshToken)(nil)).
			Set("replaced_by_id = ?", record.ID).
			Where("?TableAlias.id = ?", o.replaces).
			Exec(ctx)
		if err != nil {
			return "", nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link rotated refresh token")
		}
	}

	return value, record, nil
}

// Redeem consumes a token. The revoked flag is flipped with a conditional
// update, so of several concurrent redemptions exactly one succeeds and the
// rest get ErrTokenRevoked.
func (l *RefreshTokenLedger) Redeem(ctx context.Context, value string) (*RefreshToken, error) {
	record, err := l.Lookup(ctx, value)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	switch record.State(now) {
	case RefreshTokenRevoked:
		return nil, ErrTokenRevoked
	case RefreshTokenExpired:
		return nil, ErrTokenExpired
	}

	res, err := l.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", now).
		Set("revoked_reason = ?", RevokedReasonRotated).
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", record.ID).
		Where("?TableAlias.revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate refresh token")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		l.logger.Warn("refresh token redeemed concurrently", "token_id", record.ID.String(), "user_id", record.UserID.String())
		return nil, ErrTokenRevoked
	}

	record.Revoked = true
	record.RevokedAt = &now
	record.RevokedReason = RevokedReasonRotated
	record.UpdatedAt = now
	return record, nil
}

// Revoke marks the token revoked. Revoking twice is a no-op.
func (l *RefreshTokenLedger) Revoke(ctx context.Context, value string) error {
	record, err := l.Lookup(ctx, value)
	if err != nil {
		return err
	}
	if record.Revoked {
		return nil
	}

	now := l.clock()
	_, err = l.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", now).
		Set("revoked_reason = ?", RevokedReasonLogout).
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", record.ID).
		Where("?TableAlias.revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh token")
	}
	return nil
}

// RevokeAll revokes every active token of principalID and returns how many
// were revoked.
func (l *RefreshTokenLedger) RevokeAll(ctx context.Context, principalID uuid.UUID) (int64, error) {
	now := l.clock()
	res, err := l.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Set("revoked_at = ?", now).
		Set("revoked_reason = ?", RevokedReasonRevokeAll).
		Set("updated_at = ?", now).
		Where("?TableAlias.user_id = ?", principalID).
		Where("?TableAlias.revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh tokens")
	}
	return res.RowsAffected()
}

// Lookup finds the ledger entry for value without changing it
func (l *RefreshTokenLedger) Lookup(ctx context.Context, value string) (*RefreshToken, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}

	record, err := l.store.FindOne(ctx, WhereEqual("token_hash", HashRefreshToken(value)))
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load refresh token")
	}
	return record, nil
}

// ActiveFor lists the usable tokens of principalID
func (l *RefreshTokenLedger) ActiveFor(ctx context.Context, principalID uuid.UUID) ([]*RefreshToken, error) {
	records, err := l.store.Find(ctx,
		WhereEqual("user_id", principalID),
		WhereEqual("revoked", false),
		OrderBy("created_at", true),
	)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	active := make([]*RefreshToken, 0, len(records))
	for _, r := range records {
		if r.State(now) == RefreshTokenActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// CleanupExpired hard deletes every token past expiry. This is the only hard
// delete in the ledger.
func (l *RefreshTokenLedger) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := l.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("?TableAlias.expires_at <= ?", l.clock()).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to cleanup refresh tokens")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("removed expired refresh tokens", "count", n)
	}
	return n, nil
}

func (l *RefreshTokenLedger) newValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(l.random, buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken returns the hex encoded SHA-256 of a token value
func HashRefreshToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
