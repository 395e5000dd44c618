package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type autherFixture struct {
	repo   RepositoryManager
	auther *Auther
	clock  *fakeClock
	sink   *recordingSink
	logger *recordingLogger
}

func newAutherFixture(t *testing.T) *autherFixture {
	t.Helper()
	clock := newFakeClock()
	cfg := newTestConfig()

	repo := newTestRepo(t,
		WithManagerRefreshTTL(cfg.refreshTTL),
		WithManagerLedgerOptions(WithLedgerClock(clock.Now)),
	)
	seedTestCatalog(t, repo)

	sink := &recordingSink{}
	logger := &recordingLogger{}
	auther := NewAuthenticator(repo, newTestTokenService(t, cfg, clock), cfg).
		WithLogger(logger).
		WithActivitySink(sink).
		WithClock(clock.Now)

	return &autherFixture{repo: repo, auther: auther, clock: clock, sink: sink, logger: logger}
}

func aliceRegistration() RegisterRequest {
	return RegisterRequest{
		Username:        "alice",
		Email:           "alice@x.com",
		Password:        "correct-horse",
		ConfirmPassword: "correct-horse",
		FirstName:       "Alice",
		LastName:        "Liddell",
	}
}

func (f *autherFixture) register(t *testing.T, req RegisterRequest) AuthResult {
	t.Helper()
	res, err := f.auther.Register(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success, "register failed: %s %s", res.Error, res.Message)
	return res
}

func TestAuther_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)

	registered := f.register(t, aliceRegistration())
	require.NotNil(t, registered.User)
	assert.Equal(t, []string{RoleReader}, registered.User.Roles)
	assert.NotEmpty(t, registered.AccessToken)
	assert.NotEmpty(t, registered.RefreshToken)

	claims, err := f.auther.ValidateToken(registered.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID.String(), claims.UserID())
	assert.True(t, claims.HasRole(RoleReader))

	login, err := f.auther.Login(ctx, LoginRequest{Email: "ALICE@x.com", Password: "correct-horse"})
	require.NoError(t, err)
	require.True(t, login.Success)
	assert.True(t, login.RefreshExpiresAt.Equal(f.clock.Now().Add(30*24*time.Hour)))

	f.clock.Advance(time.Minute)
	rotated, err := f.auther.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.True(t, rotated.Success)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	replay, err := f.auther.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.False(t, replay.Success)
	assert.Equal(t, ErrorKindTokenRevoked, replay.Error)

	principalID := registered.User.ID
	revoked, err := f.auther.Revoke(ctx, principalID, rotated.RefreshToken)
	require.NoError(t, err)
	assert.True(t, revoked.Success)

	again, err := f.auther.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenRevoked, again.Error)

	assert.Equal(t, []ActivityEventType{
		ActivityEventRegister,
		ActivityEventLoginSuccess,
		ActivityEventRefreshSuccess,
		ActivityEventRefreshFailure,
		ActivityEventRevoke,
		ActivityEventRefreshFailure,
	}, f.sink.Types())
}

func TestAuther_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)

	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
	}{
		{name: "short password", mutate: func(r *RegisterRequest) { r.Password, r.ConfirmPassword = "short", "short" }},
		{name: "mismatched confirmation", mutate: func(r *RegisterRequest) { r.ConfirmPassword = "different-pass" }},
		{name: "bad email", mutate: func(r *RegisterRequest) { r.Email = "not-an-email" }},
		{name: "missing username", mutate: func(r *RegisterRequest) { r.Username = "" }},
		{name: "bad phone", mutate: func(r *RegisterRequest) { r.Phone = "12" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := aliceRegistration()
			tt.mutate(&req)

			res, err := f.auther.Register(ctx, req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, ErrorKindValidationFailed, res.Error)
		})
	}

	taken, err := f.repo.Users().IsTaken(ctx, "alice", "alice@x.com")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestAuther_RegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	f.register(t, aliceRegistration())

	dupEmail := aliceRegistration()
	dupEmail.Username = "alice2"
	dupEmail.Email = "ALICE@X.COM"

	res, err := f.auther.Register(ctx, dupEmail)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindDuplicatePrincipal, res.Error)

	dupUsername := aliceRegistration()
	dupUsername.Username = "Alice"
	dupUsername.Email = "other@x.com"

	res, err = f.auther.Register(ctx, dupUsername)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindDuplicatePrincipal, res.Error)
}

func TestAuther_RegisterAfterDelete(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	first := f.register(t, aliceRegistration())

	require.NoError(t, f.auther.DeletePrincipal(ctx, first.User.ID))

	stale, err := f.auther.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenRevoked, stale.Error)

	second := f.register(t, aliceRegistration())
	assert.NotEqual(t, first.User.ID, second.User.ID)

	_, err = f.auther.RestorePrincipal(ctx, first.User.ID)
	assert.Equal(t, ErrorKindDuplicatePrincipal, KindOf(err))

	require.NoError(t, f.auther.DeletePrincipal(ctx, second.User.ID))
	restored, err := f.auther.RestorePrincipal(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, restored.ID)

	_, err = f.auther.RestorePrincipal(ctx, first.User.ID)
	assert.ErrorIs(t, err, ErrRecordNotTrashed)

	err = f.auther.DeletePrincipal(ctx, uuid.New())
	assert.Equal(t, ErrorKindPrincipalNotFound, KindOf(err))
}

func TestAuther_LoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	f.register(t, aliceRegistration())

	unknown, err := f.auther.Login(ctx, LoginRequest{Email: "nobody@x.com", Password: "correct-horse"})
	require.NoError(t, err)

	wrong, err := f.auther.Login(ctx, LoginRequest{Email: "alice@x.com", Password: "wrong-horse"})
	require.NoError(t, err)

	malformed, err := f.auther.Login(ctx, LoginRequest{Email: "", Password: ""})
	require.NoError(t, err)

	for _, res := range []AuthResult{unknown, wrong, malformed} {
		assert.False(t, res.Success)
		assert.Equal(t, ErrorKindInvalidCredentials, res.Error)
		assert.Equal(t, ErrInvalidCredentials.Message, res.Message)
		assert.Empty(t, res.AccessToken)
	}
}

func TestAuther_InactivePrincipal(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())

	// flip the flag without revoking so refresh has to check it
	require.NoError(t, f.repo.Users().SetActive(ctx, alice.User.ID, false))

	login, err := f.auther.Login(ctx, LoginRequest{Email: "alice@x.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, ErrorKindAccountInactive, login.Error)

	refresh, err := f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindAccountInactive, refresh.Error)

	record, err := f.repo.RefreshTokens().Lookup(ctx, alice.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, RefreshTokenActive, record.State(f.clock.Now()), "a failed refresh rolls back the redemption")

	require.NoError(t, f.auther.Reactivate(ctx, alice.User.ID))
	refresh, err = f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)
	assert.True(t, refresh.Success)

	require.NoError(t, f.auther.Deactivate(ctx, alice.User.ID))
	after, err := f.auther.Refresh(ctx, refresh.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenRevoked, after.Error, "deactivation revokes every session")
}

func TestAuther_RememberMe(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	f.register(t, aliceRegistration())

	res, err := f.auther.Login(ctx, LoginRequest{Email: "alice@x.com", Password: "correct-horse", RememberMe: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.RefreshExpiresAt.Equal(f.clock.Now().Add(90*24*time.Hour)))

	f.clock.Advance(24 * time.Hour)
	rotated, err := f.auther.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.True(t, rotated.Success)
	assert.True(t, rotated.RefreshExpiresAt.Equal(res.RefreshExpiresAt), "rotation keeps the session expiry")
}

func TestAuther_RotationNeverExtendsSession(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())
	sessionEnd := alice.RefreshExpiresAt

	token := alice.RefreshToken
	for i := 0; i < 3; i++ {
		f.clock.Advance(9 * 24 * time.Hour)
		rotated, err := f.auther.Refresh(ctx, token)
		require.NoError(t, err)
		require.True(t, rotated.Success)
		assert.True(t, rotated.RefreshExpiresAt.Equal(sessionEnd), "rotation %d moved the expiry to %s", i, rotated.RefreshExpiresAt)
		token = rotated.RefreshToken
	}

	f.clock.Set(sessionEnd)
	res, err := f.auther.Refresh(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenExpired, res.Error, "the chain ends with the original login")
}

func TestAuther_ConcurrentRefresh(t *testing.T) {
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())
	assertSingleRotation(t, f.repo, f.auther, alice, 8)
}

// assertSingleRotation races workers refreshes of session and expects one
// issued pair, a TokenRevoked result for every loser and a linked lineage.
func assertSingleRotation(t *testing.T, repo RepositoryManager, auther *Auther, session AuthResult, workers int) {
	t.Helper()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []AuthResult
		losers  []AuthResult
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := auther.Refresh(ctx, session.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if !assert.NoError(t, err) {
				return
			}
			if res.Success {
				winners = append(winners, res)
				return
			}
			losers = append(losers, res)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1, "exactly one refresh may rotate the token")
	require.Len(t, losers, workers-1)
	for _, res := range losers {
		assert.Equal(t, ErrorKindTokenRevoked, res.Error)
		assert.Empty(t, res.AccessToken)
		assert.Empty(t, res.RefreshToken)
	}

	active, err := repo.RefreshTokens().ActiveFor(ctx, session.User.ID)
	require.NoError(t, err)
	require.Len(t, active, 1, "only the winner's replacement is live")
	assert.Equal(t, HashRefreshToken(winners[0].RefreshToken), active[0].TokenHash)

	old, err := repo.RefreshTokens().Lookup(ctx, session.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, old.ReplacedByID)
	assert.Equal(t, active[0].ID, *old.ReplacedByID)
}

func TestAuther_RefreshExpired(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())

	f.clock.Advance(30 * 24 * time.Hour)
	res, err := f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenExpired, res.Error)

	res, err = f.auther.Refresh(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenNotFound, res.Error)

	res, err = f.auther.Refresh(ctx, "never-issued")
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenNotFound, res.Error)
}

func TestAuther_RevokeRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())

	bobReq := aliceRegistration()
	bobReq.Username, bobReq.Email = "bob", "bob@x.com"
	bob := f.register(t, bobReq)

	res, err := f.auther.Revoke(ctx, bob.User.ID, alice.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenNotFound, res.Error)

	refresh, err := f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)
	assert.True(t, refresh.Success, "a foreign revoke leaves the token alone")
}

func TestAuther_RevokeAll(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())

	for i := 0; i < 2; i++ {
		_, err := f.auther.Login(ctx, LoginRequest{Email: "alice@x.com", Password: "correct-horse"})
		require.NoError(t, err)
	}

	n, err := f.auther.RevokeAll(ctx, alice.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	res, err := f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenRevoked, res.Error)
}

func TestAuther_ChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())
	id := alice.User.ID

	res, err := f.auther.ChangePassword(ctx, id, ChangePasswordRequest{
		CurrentPassword: "wrong-horse",
		NewPassword:     "battery-staple",
		ConfirmPassword: "battery-staple",
	})
	require.NoError(t, err)
	assert.Equal(t, ErrorKindInvalidCredentials, res.Error)

	res, err = f.auther.ChangePassword(ctx, id, ChangePasswordRequest{
		CurrentPassword: "correct-horse",
		NewPassword:     "battery-staple",
		ConfirmPassword: "battery-stapler",
	})
	require.NoError(t, err)
	assert.Equal(t, ErrorKindValidationFailed, res.Error)

	res, err = f.auther.ChangePassword(ctx, id, ChangePasswordRequest{
		CurrentPassword: "correct-horse",
		NewPassword:     "battery-staple",
		ConfirmPassword: "battery-staple",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	refresh, err := f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, ErrorKindTokenRevoked, refresh.Error)

	old, err := f.auther.Login(ctx, LoginRequest{Email: "alice@x.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, ErrorKindInvalidCredentials, old.Error)

	fresh, err := f.auther.Login(ctx, LoginRequest{Email: "alice@x.com", Password: "battery-staple"})
	require.NoError(t, err)
	assert.True(t, fresh.Success)
}

func TestAuther_LogsCarryNoSecrets(t *testing.T) {
	ctx := context.Background()
	f := newAutherFixture(t)
	alice := f.register(t, aliceRegistration())

	_, err := f.auther.Login(ctx, LoginRequest{Email: "alice@x.com", Password: "wrong-horse"})
	require.NoError(t, err)
	_, err = f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)
	_, err = f.auther.Refresh(ctx, alice.RefreshToken)
	require.NoError(t, err)

	logs := f.logger.String()
	for _, secret := range []string{"correct-horse", "wrong-horse", alice.RefreshToken, alice.AccessToken} {
		assert.False(t, strings.Contains(logs, secret), "log output leaks %q", secret)
	}

	for _, event := range f.sink.events {
		for _, v := range event.Metadata {
			s, _ := v.(string)
			assert.NotContains(t, []string{"correct-horse", alice.RefreshToken}, s)
		}
	}
}

func TestAuther_RegisterWithoutSeededDefaultRole(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := newTestConfig()
	repo := newTestRepo(t, WithManagerLedgerOptions(WithLedgerClock(clock.Now)))

	auther := NewAuthenticator(repo, newTestTokenService(t, cfg, clock), cfg).WithLogger(NopLogger())
	res, err := auther.Register(ctx, aliceRegistration())
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Empty(t, res.User.Roles)
	assert.Empty(t, res.User.Permissions)
}
