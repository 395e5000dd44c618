package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultAccessTokenTTL is used when no TTL is configured
	DefaultAccessTokenTTL = 24 * time.Hour

	signingAlgorithm = "HS256"
)

// TokenService mints and validates HS256 access tokens. Validation is pure
// computation and never touches storage.
type TokenService struct {
	signingKey []byte
	keyID      string
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	keyFunc    jwt.Keyfunc
	clock      func() time.Time
	logger     Logger
}

var _ TokenIssuer = (*TokenService)(nil)

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

// WithTokenClock sets the time source used for iat, exp and validation
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.clock = clock
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a token service from cfg. When a signing key id is
// configured tokens carry a kid header and retired keys keep validating.
func NewTokenService(cfg Config, opts ...TokenServiceOption) (*TokenService, error) {
	key := []byte(cfg.GetSigningKey())
	if len(key) == 0 {
		return nil, errors.New("signing key must not be empty", errors.CategoryValidation).
			WithCode(errors.CodeInternal)
	}

	issuer := strings.TrimSpace(cfg.GetIssuer())
	if issuer == "" {
		return nil, errors.New("token issuer must not be empty", errors.CategoryValidation).
			WithCode(errors.CodeInternal)
	}

	var aud jwt.ClaimStrings
	for _, audience := range cfg.GetAudience() {
		if audience = strings.TrimSpace(audience); audience != "" {
			aud = append(aud, audience)
		}
	}
	if len(aud) == 0 {
		return nil, errors.New("token audience must not be empty", errors.CategoryValidation).
			WithCode(errors.CodeInternal)
	}

	ttl := cfg.GetAccessTokenTTL()
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	ts := &TokenService{
		signingKey: key,
		keyID:      cfg.GetSigningKeyID(),
		ttl:        ttl,
		issuer:     issuer,
		audience:   aud,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	ts.logger = resolveLogger("token_service", ts.logger)
	ts.keyFunc = ts.buildKeyFunc(cfg.GetRetiredSigningKeys())

	return ts, nil
}

func (ts *TokenService) buildKeyFunc(retired map[string]string) jwt.Keyfunc {
	if ts.keyID == "" {
		return func(t *jwt.Token) (any, error) {
			return ts.signingKey, nil
		}
	}

	given := make(map[string]keyfunc.GivenKey, len(retired)+1)
	for kid, key := range retired {
		if kid == "" || key == "" {
			continue
		}
		given[kid] = keyfunc.NewGivenCustom([]byte(key), keyfunc.GivenKeyOptions{
			Algorithm: signingAlgorithm,
		})
	}
	given[ts.keyID] = keyfunc.NewGivenCustom(ts.signingKey, keyfunc.GivenKeyOptions{
		Algorithm: signingAlgorithm,
	})
	jwks := keyfunc.NewGiven(given)

	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Header["kid"]; !ok {
			return ts.signingKey, nil
		}
		return jwks.Keyfunc(t)
	}
}

// TTL returns the access token lifetime
func (ts *TokenService) TTL() time.Duration {
	return ts.ttl
}

// Generate mints an access token for principal and returns it with its expiry
func (ts *TokenService) Generate(principal PrincipalSnapshot) (string, time.Time, error) {
	now := ts.clock()
	expires := now.Add(ts.ttl)

	claims := NewJWTClaims(principal)
	claims.Issuer = ts.issuer
	claims.Audience = ts.audience
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expires)
	claims.ID = ulid.Make().String()

	token, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.Expires(), nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if ts.keyID != "" {
		token.Header["kid"] = ts.keyID
	}

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate checks signature, issuer, audience and expiry. Every failure is
// reported as ErrTokenInvalid; the cause is only logged.
func (ts *TokenService) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.clock),
		jwt.WithIssuer(ts.issuer),
		jwt.WithAudience(ts.audience[0]),
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.keyFunc(t)
	}, parserOptions...)

	if err != nil {
		ts.logger.Debug("access token rejected", "error", err)
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Debug("access token claims could not be decoded")
		return nil, ErrTokenInvalid
	}

	// exp is exclusive: a token is expired at its exp instant
	if !ts.clock().Before(claims.Expires()) {
		ts.logger.Debug("access token expired", "jti", claims.TokenID())
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
