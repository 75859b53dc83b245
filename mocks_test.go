package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-blog-auth"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	testSigningKey = "test-signing-key-that-is-long-enough!!"
	testIssuer     = "blog-auth-test"
	testAudience   = "blog-web"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable time source shared by services under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig implements auth.Config
type testConfig struct {
	accessTTL  time.Duration
	verifyTTL  time.Duration
	resetTTL   time.Duration
	retention  time.Duration
	webBase    string
	verifyBase string
	resetBase  string
	signingKey string
	issuer     string
	audience   string
}

func newTestConfig() *testConfig {
	return &testConfig{
		accessTTL:  time.Hour,
		verifyTTL:  45 * time.Minute,
		resetTTL:   time.Hour,
		retention:  7 * 24 * time.Hour,
		webBase:    "http://web.test",
		verifyBase: "http://api.test/api/auth/confirm-email",
		resetBase:  "http://api.test/api/auth/password/reset-link",
		signingKey: testSigningKey,
		issuer:     testIssuer,
		audience:   testAudience,
	}
}

func (c *testConfig) GetSigningKey() string                  { return c.signingKey }
func (c *testConfig) GetIssuer() string                      { return c.issuer }
func (c *testConfig) GetAudience() string                    { return c.audience }
func (c *testConfig) GetAccessTokenTTL() time.Duration       { return c.accessTTL }
func (c *testConfig) GetEmailVerificationTTL() time.Duration { return c.verifyTTL }
func (c *testConfig) GetPasswordResetTTL() time.Duration     { return c.resetTTL }
func (c *testConfig) GetTokenRetention() time.Duration       { return c.retention }
func (c *testConfig) GetWebBaseURL() string                  { return c.webBase }
func (c *testConfig) GetVerifyLinkBase() string              { return c.verifyBase }
func (c *testConfig) GetResetLinkBase() string               { return c.resetBase }

// MockIdentityProvider implements auth.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, identifier, password string) (auth.Identity, error) {
	args := m.Called(ctx, identifier, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(auth.Identity), args.Error(1)
}

func (m *MockIdentityProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (auth.Identity, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(auth.Identity), args.Error(1)
}

// MockEmailSender implements auth.EmailSender
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

func (m *MockEmailSender) SendHTML(ctx context.Context, to, subject, html string) error {
	args := m.Called(ctx, to, subject, html)
	return args.Error(0)
}

// TestIdentity is a plain auth.Identity
type TestIdentity struct {
	id       string
	username string
	email    string
	role     string
}

func (i TestIdentity) ID() string       { return i.id }
func (i TestIdentity) Username() string { return i.username }
func (i TestIdentity) Email() string    { return i.email }
func (i TestIdentity) Role() string     { return i.role }

// sentMail is a message captured by recordingSender
type sentMail struct {
	To      string
	Subject string
	Body    string
}

// recordingSender keeps every message, or fails them all when err is set
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, subject, body string) error {
	return s.record(to, subject, body)
}

func (s *recordingSender) SendHTML(_ context.Context, to, subject, html string) error {
	return s.record(to, subject, html)
}

func (s *recordingSender) record(to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (s *recordingSender) Messages() []sentMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMail(nil), s.sent...)
}

// stubLimiter admits the first allow calls per key, then denies
type stubLimiter struct {
	mu         sync.Mutex
	allow      int
	retryAfter int
	calls      map[string]int
}

func newStubLimiter(allow, retryAfter int) *stubLimiter {
	return &stubLimiter{allow: allow, retryAfter: retryAfter, calls: map[string]int{}}
}

func (l *stubLimiter) TryConsume(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[key]++
	return l.calls[key] <= l.allow
}

func (l *stubLimiter) SecondsUntilNextToken(string) int {
	return l.retryAfter
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// newTestDB opens a migrated in memory sqlite database
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:?_fk=1")
	require.NoError(t, err)
	// every connection to :memory: is a new database
	sqldb.SetMaxOpenConns(1)

	require.NoError(t, auth.Migrate(context.Background(), sqldb, "sqlite"))

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func newTestTokens(clock *fakeClock) *auth.TokenServiceImpl {
	return auth.NewTokenService(
		[]byte(testSigningKey),
		testIssuer,
		testAudience,
		auth.WithTokenClock(clock.Now),
		auth.WithTokenLogger(auth.NoopLogger()),
	)
}

// seedUser stores a user with a hashed password
func seedUser(t *testing.T, repo auth.RepositoryManager, username, email, password string, verified bool) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	user, err := repo.Users().Create(context.Background(), &auth.User{
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		EmailVerified: verified,
	})
	require.NoError(t, err)
	return user
}

// rivalStore lets a competing request consume the token inside the same
// transaction just before the caller's own conditional update runs, so
// the caller always loses the race.
type rivalStore[T any] struct {
	auth.TokenStore[T]
	wins int
}

func (s *rivalStore[T]) ConsumeTx(ctx context.Context, tx bun.IDB, key any, now time.Time) (bool, error) {
	ok, err := s.TokenStore.ConsumeTx(ctx, tx, key, now)
	if err != nil || !ok {
		return ok, err
	}
	s.wins++
	return s.TokenStore.ConsumeTx(ctx, tx, key, now)
}

type rivalRepo struct {
	auth.RepositoryManager
	verifications *rivalStore[auth.EmailVerificationToken]
	resets        *rivalStore[auth.PasswordResetToken]
}

func newRivalRepo(repo auth.RepositoryManager) *rivalRepo {
	return &rivalRepo{
		RepositoryManager: repo,
		verifications:     &rivalStore[auth.EmailVerificationToken]{TokenStore: repo.EmailVerifications()},
		resets:            &rivalStore[auth.PasswordResetToken]{TokenStore: repo.PasswordResets()},
	}
}

func (r *rivalRepo) EmailVerifications() auth.TokenStore[auth.EmailVerificationToken] {
	return r.verifications
}

func (r *rivalRepo) PasswordResets() auth.TokenStore[auth.PasswordResetToken] {
	return r.resets
}
