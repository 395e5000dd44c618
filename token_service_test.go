package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T, cfg *testConfig, clock *fakeClock) *TokenService {
	t.Helper()
	ts, err := NewTokenService(cfg, WithTokenClock(clock.Now), WithTokenLogger(NopLogger()))
	require.NoError(t, err)
	return ts
}

func testSnapshot(roles ...string) PrincipalSnapshot {
	return PrincipalSnapshot{
		ID:          uuid.New(),
		Username:    "alice",
		Email:       "alice@x.com",
		DisplayName: "Alice Liddell",
		Roles:       roles,
	}
}

func TestNewTokenService_RequiresKey(t *testing.T) {
	cfg := newTestConfig()
	cfg.signingKey = ""

	_, err := NewTokenService(cfg)
	require.Error(t, err)
}

func TestNewTokenService_RequiresIssuerAndAudience(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*testConfig)
	}{
		{name: "empty issuer", mutate: func(c *testConfig) { c.issuer = "" }},
		{name: "blank issuer", mutate: func(c *testConfig) { c.issuer = "  " }},
		{name: "nil audience", mutate: func(c *testConfig) { c.audience = nil }},
		{name: "blank audience", mutate: func(c *testConfig) { c.audience = []string{""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			tt.mutate(cfg)

			ts, err := NewTokenService(cfg)
			require.Error(t, err)
			assert.Nil(t, ts)
		})
	}
}

func TestTokenService_RejectsForeignIssuerAndAudience(t *testing.T) {
	clock := newFakeClock()

	foreign := newTestConfig()
	foreign.issuer = "evil-issuer"
	foreign.audience = []string{"evil-aud"}
	token, _, err := newTestTokenService(t, foreign, clock).Generate(testSnapshot(RoleAdmin))
	require.NoError(t, err)

	claims, err := newTestTokenService(t, newTestConfig(), clock).Validate(token)
	assert.Nil(t, claims)
	assert.Equal(t, ErrTokenInvalid, err)
}

func TestTokenService_DefaultTTL(t *testing.T) {
	cfg := newTestConfig()
	cfg.accessTTL = 0

	ts := newTestTokenService(t, cfg, newFakeClock())
	assert.Equal(t, DefaultAccessTokenTTL, ts.TTL())
}

func TestTokenService_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokenService(t, newTestConfig(), clock)
	principal := testSnapshot(RoleAuthor)

	token, expiresAt, err := ts.Generate(principal)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)
	assert.True(t, expiresAt.Equal(clock.Now().Add(time.Hour)))

	claims, err := ts.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, principal.ID.String(), claims.Subject())
	assert.Equal(t, "alice", claims.Username())
	assert.Equal(t, "alice@x.com", claims.Email())
	assert.Equal(t, "Alice Liddell", claims.DisplayName())
	assert.Equal(t, []string{RoleAuthor}, claims.Roles())
	assert.True(t, claims.HasRole("author"))
	assert.True(t, claims.IsAtLeast(RoleReader))
	assert.False(t, claims.IsAtLeast(RoleEditor))
	assert.NotEmpty(t, claims.TokenID())

	id, err := claims.PrincipalID()
	require.NoError(t, err)
	assert.Equal(t, principal.ID, id)
}

func TestTokenService_PayloadFields(t *testing.T) {
	ts := newTestTokenService(t, newTestConfig(), newFakeClock())

	token, _, err := ts.Generate(testSnapshot(RoleAuthor, RoleEditor))
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)

	for _, field := range []string{"sub", "name", "email", "role", "exp", "iss", "aud", "iat", "jti"} {
		assert.Contains(t, claims, field)
	}
	assert.Equal(t, []any{RoleAuthor, RoleEditor}, claims["role"])
	assert.Equal(t, "HS256", parsed.Header["alg"])
}

func TestTokenService_ExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokenService(t, newTestConfig(), clock)

	token, _, err := ts.Generate(testSnapshot(RoleReader))
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = ts.Validate(token)
	assert.NoError(t, err, "one second before exp is valid")

	clock.Advance(time.Second)
	_, err = ts.Validate(token)
	assert.Equal(t, ErrTokenInvalid, err, "exactly at exp is expired")

	clock.Advance(time.Hour)
	_, err = ts.Validate(token)
	assert.Equal(t, ErrTokenInvalid, err)
}

func TestTokenService_RejectsTamperedTokens(t *testing.T) {
	clock := newFakeClock()
	cfg := newTestConfig()
	ts := newTestTokenService(t, cfg, clock)

	token, _, err := ts.Generate(testSnapshot(RoleReader))
	require.NoError(t, err)

	otherKey := newTestConfig()
	otherKey.signingKey = "another-signing-key-0123456789abcdef"

	wrongIssuer := newTestConfig()
	wrongIssuer.issuer = "someone-else"

	wrongAudience := newTestConfig()
	wrongAudience.audience = []string{"admin-api"}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x" + "." + parts[2]

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": uuid.NewString(),
		"iss": cfg.issuer,
		"aud": cfg.audience,
		"exp": clock.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		issuer *testConfig
		token  string
	}{
		{name: "bad signature", issuer: otherKey, token: token},
		{name: "wrong issuer", issuer: wrongIssuer, token: token},
		{name: "wrong audience", issuer: wrongAudience, token: token},
		{name: "tampered payload", issuer: cfg, token: tampered},
		{name: "alg none", issuer: cfg, token: noneToken},
		{name: "garbage", issuer: cfg, token: "not.a.jwt"},
		{name: "empty", issuer: cfg, token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := newTestTokenService(t, tt.issuer, clock)
			claims, err := validator.Validate(tt.token)
			assert.Nil(t, claims)
			assert.Equal(t, ErrTokenInvalid, err)
		})
	}
}

func TestTokenService_RequiresExpiry(t *testing.T) {
	cfg := newTestConfig()
	clock := newFakeClock()
	ts := newTestTokenService(t, cfg, clock)

	claims := NewJWTClaims(testSnapshot(RoleReader))
	claims.Issuer = cfg.issuer
	claims.Audience = jwt.ClaimStrings(cfg.audience)

	token, err := ts.SignClaims(claims)
	require.NoError(t, err)

	_, err = ts.Validate(token)
	assert.Equal(t, ErrTokenInvalid, err)
}

func TestTokenService_KeyRotation(t *testing.T) {
	clock := newFakeClock()

	oldCfg := newTestConfig()
	oldCfg.keyID = "v1"
	oldCfg.signingKey = "old-signing-key-0123456789abcdef0"
	oldService := newTestTokenService(t, oldCfg, clock)

	newCfg := newTestConfig()
	newCfg.keyID = "v2"
	newCfg.signingKey = "new-signing-key-0123456789abcdef0"
	newCfg.retired = map[string]string{"v1": oldCfg.signingKey}
	newService := newTestTokenService(t, newCfg, clock)

	oldToken, _, err := oldService.Generate(testSnapshot(RoleEditor))
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(oldToken, jwt.MapClaims{})
	require.NoError(t, err)
	assert.Equal(t, "v1", parsed.Header["kid"])

	claims, err := newService.Validate(oldToken)
	require.NoError(t, err, "tokens signed with a retired key keep validating")
	assert.Equal(t, []string{RoleEditor}, claims.Roles())

	newToken, _, err := newService.Generate(testSnapshot(RoleEditor))
	require.NoError(t, err)
	_, err = newService.Validate(newToken)
	assert.NoError(t, err)

	_, err = oldService.Validate(newToken)
	assert.Equal(t, ErrTokenInvalid, err, "the old service does not know v2")

	unknownCfg := newTestConfig()
	unknownCfg.keyID = "v9"
	unknownCfg.signingKey = newCfg.signingKey
	unknownToken, _, err := newTestTokenService(t, unknownCfg, clock).Generate(testSnapshot(RoleEditor))
	require.NoError(t, err)

	_, err = newService.Validate(unknownToken)
	assert.Equal(t, ErrTokenInvalid, err, "unknown kid is rejected even with the current key")
}
