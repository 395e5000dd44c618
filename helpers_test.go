package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

// newTestServer returns a fiber backed router without the request logger
func newTestServer() router.Server[*fiber.App] {
	return router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return fiber.New(fiber.Config{DisableStartupMessage: true})
	})
}

type testConfig struct {
	signingKey  string
	keyID       string
	retired     map[string]string
	issuer      string
	audience    []string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	extendedTTL time.Duration
	defaultRole string
	cost        int
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:  testSigningKey,
		issuer:      "blogauth-test",
		audience:    []string{"blog-api"},
		accessTTL:   time.Hour,
		refreshTTL:  30 * 24 * time.Hour,
		extendedTTL: 90 * 24 * time.Hour,
		defaultRole: RoleReader,
		cost:        MinPasswordCost,
	}
}

func (c *testConfig) GetSigningKey() string                     { return c.signingKey }
func (c *testConfig) GetSigningKeyID() string                   { return c.keyID }
func (c *testConfig) GetRetiredSigningKeys() map[string]string  { return c.retired }
func (c *testConfig) GetIssuer() string                         { return c.issuer }
func (c *testConfig) GetAudience() []string                     { return c.audience }
func (c *testConfig) GetAccessTokenTTL() time.Duration          { return c.accessTTL }
func (c *testConfig) GetRefreshTokenTTL() time.Duration         { return c.refreshTTL }
func (c *testConfig) GetExtendedRefreshTokenTTL() time.Duration { return c.extendedTTL }
func (c *testConfig) GetDefaultRole() string                    { return c.defaultRole }
func (c *testConfig) GetPasswordCost() int                      { return c.cost }

// newTestDB opens a private in-memory sqlite database with the schema applied
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, CreateSchema(context.Background(), db))
	return db
}

func newTestRepo(t *testing.T, opts ...ManagerOption) RepositoryManager {
	t.Helper()
	opts = append([]ManagerOption{WithManagerLedgerOptions(WithLedgerLogger(NopLogger()))}, opts...)
	return NewRepositoryManager(newTestDB(t), opts...)
}

func seedTestCatalog(t *testing.T, repo RepositoryManager) {
	t.Helper()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	_, err = NewSeeder(repo, catalog).WithLogger(NopLogger()).Seed(context.Background())
	require.NoError(t, err)
}

func createTestUser(t *testing.T, repo RepositoryManager, username, email, password string) *User {
	t.Helper()
	hash, err := NewBcryptHasher(MinPasswordCost).HashPassword(password)
	require.NoError(t, err)

	user, err := repo.Users().Register(context.Background(), &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	})
	require.NoError(t, err)
	return user
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordedLog struct {
	level string
	msg   string
	args  []any
}

// recordingLogger keeps every entry so tests can assert nothing secret leaks
type recordingLogger struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := ""
	for _, e := range l.entries {
		out += fmt.Sprintf("%s %s %v\n", e.level, e.msg, e.args)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, e ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func textCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}
