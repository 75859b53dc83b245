package auth_test

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-blog-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type verificationFixture struct {
	repo    auth.RepositoryManager
	tokens  *auth.TokenServiceImpl
	clock   *fakeClock
	sender  *recordingSender
	sink    *recordingSink
	service *auth.EmailVerificationService
}

func newVerificationFixture(t *testing.T) *verificationFixture {
	t.Helper()

	f := &verificationFixture{
		repo:   auth.NewRepositoryManager(newTestDB(t)),
		clock:  newFakeClock(t0),
		sender: &recordingSender{},
		sink:   &recordingSink{},
	}
	f.tokens = newTestTokens(f.clock)
	f.service = auth.NewEmailVerificationService(f.repo, f.tokens, newTestConfig()).
		WithSender(f.sender).
		WithClock(f.clock.Now).
		WithLogger(auth.NoopLogger()).
		WithActivitySink(f.sink)
	return f
}

var linkTokenRe = regexp.MustCompile(`token=([A-Za-z0-9_\-\.%]+)`)

// tokenFromBody pulls the token query parameter out of an email body
func tokenFromBody(t *testing.T, body string) string {
	t.Helper()
	m := linkTokenRe.FindStringSubmatch(body)
	require.Len(t, m, 2, "no link in %q", body)
	token, err := url.QueryUnescape(m[1])
	require.NoError(t, err)
	return token
}

func TestEmailVerification_GenerateAndConsume(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	token, err := f.service.GenerateToken(ctx, " Alice@Example.com ")
	require.NoError(t, err)

	claims, err := f.tokens.ParseEmailVerificationToken(token)
	require.NoError(t, err)

	record, err := f.repo.EmailVerifications().Find(ctx, uuid.MustParse(claims.JTI()))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", record.Email)
	assert.True(t, record.ExpiresAt.Equal(t0.Add(45*time.Minute)))

	email, err := f.service.ValidateAndConsume(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	_, err = f.service.ValidateAndConsume(ctx, token)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)
}

func TestEmailVerification_NewTokenRevokesOld(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	first, err := f.service.GenerateToken(ctx, "Bob@Example.com")
	require.NoError(t, err)
	second, err := f.service.GenerateToken(ctx, "bob@example.com")
	require.NoError(t, err)

	_, err = f.service.ValidateAndConsume(ctx, first)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)

	email, err := f.service.ValidateAndConsume(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", email)
}

func TestEmailVerification_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	token, err := f.service.GenerateToken(ctx, "alice@example.com")
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.service.ValidateAndConsume(ctx, token)
		}()
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)
	}
	assert.Equal(t, 1, succeeded)
}

func TestEmailVerification_LostConsumeRace(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)
	seedUser(t, f.repo, "alice", "alice@example.com", "password-1", false)

	rival := newRivalRepo(f.repo)
	service := auth.NewEmailVerificationService(rival, f.tokens, newTestConfig()).
		WithClock(f.clock.Now).
		WithLogger(auth.NoopLogger())

	token, err := f.service.GenerateToken(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = service.ValidateAndConsume(ctx, token)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)

	err = service.Verify(ctx, token)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)
	assert.Equal(t, 2, rival.verifications.wins)

	user, err := f.repo.Users().FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)
}

func TestEmailVerification_Expired(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	token, err := f.service.GenerateToken(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(45 * time.Minute)
	_, err = f.service.ValidateAndConsume(ctx, token)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)
}

func TestEmailVerification_NonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)
	f.service.WithTTL(-time.Second)

	token, err := f.service.GenerateToken(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = f.service.ValidateAndConsume(ctx, token)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)
}

func TestEmailVerification_UnknownRecord(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	// signed correctly, never stored
	token, err := f.tokens.IssueEmailVerificationToken("alice@example.com", time.Hour)
	require.NoError(t, err)

	_, err = f.service.ValidateAndConsume(ctx, token)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)
}

func TestEmailVerification_RecordMismatch(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	token, claims, err := f.tokens.MintEmailVerificationToken("alice@example.com", time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.repo.EmailVerifications().Create(ctx, &auth.EmailVerificationToken{
		JTI:       uuid.MustParse(claims.JTI()),
		Email:     "mallory@example.com",
		IssuedAt:  t0,
		ExpiresAt: t0.Add(time.Hour),
	}))

	_, err = f.service.ValidateAndConsume(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	record, err := f.repo.EmailVerifications().Find(ctx, uuid.MustParse(claims.JTI()))
	require.NoError(t, err)
	assert.False(t, record.Used())
}

func TestEmailVerification_Garbage(t *testing.T) {
	f := newVerificationFixture(t)

	_, err := f.service.ValidateAndConsume(context.Background(), "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestEmailVerification_SendAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)
	user := seedUser(t, f.repo, "alice", "alice@example.com", "password-1", false)

	require.NoError(t, f.service.SendVerification(ctx, user))

	msgs := f.sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "http://api.test/api/auth/confirm-email?token=")

	token := tokenFromBody(t, msgs[0].Body)
	require.NoError(t, f.service.Verify(ctx, token))

	found, err := f.repo.Users().FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, found.EmailVerified)

	err = f.service.Verify(ctx, token)
	assert.ErrorIs(t, err, auth.ErrExpiredOrUsed)

	assert.Contains(t, f.sink.Types(), auth.ActivityEventVerificationIssued)
	assert.Contains(t, f.sink.Types(), auth.ActivityEventEmailVerified)
	assert.Contains(t, f.sink.Types(), auth.ActivityEventEmailVerificationFailure)
}

func TestEmailVerification_VerifyWithoutAccount(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	token, err := f.service.GenerateToken(ctx, "ghost@example.com")
	require.NoError(t, err)

	err = f.service.Verify(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	// the transaction rolled back, the token is still usable
	claims, err := f.tokens.ParseEmailVerificationToken(token)
	require.NoError(t, err)
	record, err := f.repo.EmailVerifications().Find(ctx, uuid.MustParse(claims.JTI()))
	require.NoError(t, err)
	assert.False(t, record.Used())
}

func TestEmailVerification_SendFailure(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)
	user := seedUser(t, f.repo, "alice", "alice@example.com", "password-1", false)

	sender := new(MockEmailSender)
	sender.On("SendHTML", mock.Anything, "alice@example.com", mock.Anything, mock.Anything).
		Return(errors.New("smtp down"))
	f.service.WithSender(sender)

	err := f.service.SendVerification(ctx, user)
	require.Error(t, err)
	assert.True(t, auth.IsEmailDelivery(err))
	sender.AssertExpectations(t)
	assert.Contains(t, f.sink.Types(), auth.ActivityEventEmailDeliveryFailure)
}

func TestEmailVerification_NoSender(t *testing.T) {
	f := newVerificationFixture(t)
	f.service.WithSender(nil)
	user := seedUser(t, f.repo, "alice", "alice@example.com", "password-1", false)

	err := f.service.SendVerification(context.Background(), user)
	assert.True(t, auth.IsEmailDelivery(err))
}

func TestEmailVerification_Resend(t *testing.T) {
	ctx := context.Background()

	t.Run("unverified account gets a new link", func(t *testing.T) {
		f := newVerificationFixture(t)
		seedUser(t, f.repo, "alice", "alice@example.com", "password-1", false)

		require.NoError(t, f.service.Resend(ctx, "ALICE@example.com"))
		assert.Len(t, f.sender.Messages(), 1)
	})

	t.Run("verified account is silent", func(t *testing.T) {
		f := newVerificationFixture(t)
		seedUser(t, f.repo, "alice", "alice@example.com", "password-1", true)

		require.NoError(t, f.service.Resend(ctx, "alice@example.com"))
		assert.Empty(t, f.sender.Messages())
	})

	t.Run("unknown address is silent", func(t *testing.T) {
		f := newVerificationFixture(t)

		require.NoError(t, f.service.Resend(ctx, "ghost@example.com"))
		assert.Empty(t, f.sender.Messages())
	})

	t.Run("rate limited is silent", func(t *testing.T) {
		f := newVerificationFixture(t)
		seedUser(t, f.repo, "alice", "alice@example.com", "password-1", false)
		limiter := newStubLimiter(1, 60)
		f.service.WithLimiter(limiter)

		require.NoError(t, f.service.Resend(ctx, "alice@example.com"))
		require.NoError(t, f.service.Resend(ctx, "alice@example.com"))

		assert.Len(t, f.sender.Messages(), 1)
		assert.Equal(t, 2, limiter.calls["verify:email:alice@example.com"])
		assert.Contains(t, f.sink.Types(), auth.ActivityEventRateLimited)
	})

	t.Run("delivery failure is silent", func(t *testing.T) {
		f := newVerificationFixture(t)
		seedUser(t, f.repo, "alice", "alice@example.com", "password-1", false)
		f.sender.err = errors.New("smtp down")

		assert.NoError(t, f.service.Resend(ctx, "alice@example.com"))
	})
}

func TestEmailVerification_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newVerificationFixture(t)

	_, err := f.service.GenerateToken(ctx, "alice@example.com")
	require.NoError(t, err)

	n, err := f.service.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(8 * 24 * time.Hour)
	n, err = f.service.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, f.sink.Types(), auth.ActivityEventTokensCleaned)
}
