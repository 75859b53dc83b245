package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-blog-auth"
	"github.com/goliatone/go-blog-auth/mail"
	"github.com/goliatone/go-blog-auth/middleware/jwtware"
	"github.com/goliatone/go-blog-auth/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app    *fiber.App
	clock  *fakeClock
	outbox *mail.LogSender
	repo   auth.RepositoryManager
}

// newTestServer wires the real services the way cmd/server does, on top
// of sqlite and a recording mailer.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := &testServer{
		clock:  newFakeClock(t0),
		outbox: mail.NewLogSender(auth.NoopLogger()),
		repo:   auth.NewRepositoryManager(newTestDB(t)),
	}
	cfg := newTestConfig()
	tokens := newTestTokens(s.clock)
	limiterClock := ratelimit.WithClock(s.clock.Now)

	verifier := auth.NewEmailVerificationService(s.repo, tokens, cfg).
		WithSender(s.outbox).
		WithLimiter(ratelimit.New(ratelimit.ResendByEmail, limiterClock)).
		WithClock(s.clock.Now).
		WithLogger(auth.NoopLogger())

	resetter := auth.NewPasswordResetService(s.repo, cfg).
		WithSender(s.outbox).
		WithLimiter(ratelimit.New(ratelimit.PasswordResetByEmail, limiterClock)).
		WithClock(s.clock.Now).
		WithLogger(auth.NoopLogger())

	provider := auth.NewUserProvider(s.repo.Users()).WithLogger(auth.NoopLogger())
	auther := auth.NewAuthenticator(provider, tokens, cfg).WithLogger(auth.NoopLogger())
	registrar := auth.NewRegisterUserHandler(s.repo, verifier).WithLogger(auth.NoopLogger())

	s.app = fiber.New()
	s.app.Use(jwtware.New(jwtware.Config{
		Tokens:     tokens,
		Identities: provider,
		Logger:     auth.NoopLogger(),
	}))

	auth.RegisterAuthRoutes(s.app,
		auth.WithControllerLogger(auth.NoopLogger()),
		auth.WithControllerServices(auther, registrar, verifier, resetter),
		auth.WithControllerWebBaseURL(cfg.GetWebBaseURL()),
		auth.WithControllerAuthGuard(jwtware.RequireAuth()),
		auth.WithControllerIPLimiters(
			ratelimit.New(ratelimit.ResendByIP, limiterClock),
			ratelimit.New(ratelimit.PasswordResetByIP, limiterClock),
		),
		auth.WithControllerClock(s.clock.Now),
	)
	return s
}

func (s *testServer) do(t *testing.T, method, target, body, bearer string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// lastLink returns the query escaped token of the newest email
func (s *testServer) lastLink(t *testing.T) string {
	t.Helper()
	msgs := s.outbox.Messages()
	require.NotEmpty(t, msgs)
	token := tokenFromBody(t, msgs[len(msgs)-1].Body)
	return url.QueryEscape(token)
}

func (s *testServer) login(t *testing.T, username, password string) (*http.Response, string) {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/auth/login",
		`{"username":"`+username+`","password":"`+password+`"}`, "")
	if resp.StatusCode != http.StatusOK {
		return resp, ""
	}
	var body auth.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body.Token
}

func TestIntegration_RegisterVerifyLogin(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"Alice@Example.com","password":"password-1"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = s.login(t, "alice", "password-1")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "unverified accounts cannot log in")

	token := s.lastLink(t)
	resp = s.do(t, http.MethodGet, "/api/auth/confirm-email?token="+token, "", "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "http://web.test/verified?status=success", resp.Header.Get("Location"))

	resp = s.do(t, http.MethodGet, "/api/auth/confirm-email?token="+token, "", "")
	assert.Equal(t, "http://web.test/verified?status=expired", resp.Header.Get("Location"))

	resp, access := s.login(t, "alice", "password-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, access)

	resp = s.do(t, http.MethodGet, "/api/auth/me", "", access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me auth.IdentityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, "alice@example.com", me.Email)

	resp = s.do(t, http.MethodGet, "/api/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	s.clock.Advance(time.Hour)
	resp = s.do(t, http.MethodGet, "/api/auth/me", "", access)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "expired access tokens are anonymous")
}

func TestIntegration_ExpiredVerificationLink(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"password-1"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	stale := s.lastLink(t)

	s.clock.Advance(46 * time.Minute)
	resp = s.do(t, http.MethodGet, "/api/auth/confirm-email?token="+stale, "", "")
	assert.Equal(t, "http://web.test/verified?status=expired", resp.Header.Get("Location"))

	resp = s.do(t, http.MethodPost, "/api/auth/verify/resend", `{"email":"alice@example.com"}`, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	fresh := s.lastLink(t)
	assert.NotEqual(t, stale, fresh)

	resp = s.do(t, http.MethodGet, "/api/auth/confirm-email?token="+fresh, "", "")
	assert.Equal(t, "http://web.test/verified?status=success", resp.Header.Get("Location"))

	resp = s.do(t, http.MethodGet, "/api/auth/confirm-email?token=garbage", "", "")
	assert.Equal(t, "http://web.test/verified?status=invalid", resp.Header.Get("Location"))
}

func TestIntegration_PasswordReset(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s.repo, "alice", "alice@example.com", "old-password", true)

	resp := s.do(t, http.MethodPost, "/api/auth/password/forgot", `{"email":"alice@example.com"}`, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	token := s.lastLink(t)

	resp = s.do(t, http.MethodGet, "/api/auth/password/reset-link?token="+token, "", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://web.test/reset-password?token="+token, resp.Header.Get("Location"))

	resp = s.do(t, http.MethodGet, "/api/auth/password/validate?token="+token, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inspection auth.TokenInspection
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inspection))
	assert.Equal(t, "a***@example.com", inspection.MaskedEmail)

	resp = s.do(t, http.MethodPost, "/api/auth/password/reset",
		`{"token":"`+token+`","newPassword":"brand-new-password"}`, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/auth/password/reset",
		`{"token":"`+token+`","newPassword":"another-password"}`, "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/auth/password/validate?token="+token, "", "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp, _ = s.login(t, "alice", "old-password")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, access := s.login(t, "alice", "brand-new-password")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, access)
}

func TestIntegration_ForgotIsRateLimited(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s.repo, "alice", "alice@example.com", "old-password", true)

	for i := 0; i < ratelimit.PasswordResetByEmail.Capacity; i++ {
		resp := s.do(t, http.MethodPost, "/api/auth/password/reset-link", `{"email":"alice@example.com"}`, "")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp := s.do(t, http.MethodPost, "/api/auth/password/reset-link", `{"email":"alice@example.com"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "100", resp.Header.Get("Retry-After"))

	s.clock.Advance(5 * time.Minute)
	resp = s.do(t, http.MethodPost, "/api/auth/password/reset-link", `{"email":"alice@example.com"}`, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestIntegration_LoginDoesNotRevealAccounts(t *testing.T) {
	s := newTestServer(t)
	seedUser(t, s.repo, "alice", "alice@example.com", "password-1", true)

	unknown, _ := s.login(t, "nobody", "password-1")
	wrong, _ := s.login(t, "alice", "password-2")

	assert.Equal(t, http.StatusUnauthorized, unknown.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	var a, b auth.ErrorResponse
	require.NoError(t, json.NewDecoder(unknown.Body).Decode(&a))
	require.NoError(t, json.NewDecoder(wrong.Body).Decode(&b))
	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Message, b.Message)
}
