package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-blog-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAuther_Authenticate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(t0)
	tokens := newTestTokens(clock)
	sink := &recordingSink{}

	provider := new(MockIdentityProvider)
	provider.On("VerifyIdentity", mock.Anything, "alice", "password-1").
		Return(TestIdentity{id: "u-1", username: "alice", email: "alice@example.com", role: "admin"}, nil)

	cfg := newTestConfig()
	cfg.accessTTL = 30 * time.Minute

	auther := auth.NewAuthenticator(provider, tokens, cfg).
		WithLogger(auth.NoopLogger()).
		WithActivitySink(sink)
	assert.Same(t, tokens, auther.TokenService())

	token, err := auther.Authenticate(ctx, "alice", "password-1")
	require.NoError(t, err)

	claims, err := tokens.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject())
	assert.Equal(t, "alice@example.com", claims.Email())
	assert.Equal(t, []string{"ROLE_ADMIN"}, claims.Roles)
	assert.Equal(t, t0.Add(30*time.Minute), claims.Expires())

	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginSuccess}, sink.Types())
	provider.AssertExpectations(t)
}

func TestAuther_DefaultTTL(t *testing.T) {
	clock := newFakeClock(t0)
	tokens := newTestTokens(clock)

	provider := new(MockIdentityProvider)
	provider.On("VerifyIdentity", mock.Anything, "alice", "password-1").
		Return(TestIdentity{id: "u-1", username: "alice", role: "user"}, nil)

	token, err := auth.NewAuthenticator(provider, tokens, nil).
		WithLogger(auth.NoopLogger()).
		Authenticate(context.Background(), "alice", "password-1")
	require.NoError(t, err)

	claims, err := tokens.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(auth.DefaultAccessTokenTTL), claims.Expires())
	assert.Equal(t, []string{"ROLE_USER"}, claims.Roles)
}

func TestAuther_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unknown user", auth.ErrUserNotFound},
		{"bad password", auth.ErrBadCredentials},
		{"unverified", auth.ErrEmailNotVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			provider := new(MockIdentityProvider)
			provider.On("VerifyIdentity", mock.Anything, "alice", "nope").Return(nil, tt.err)

			auther := auth.NewAuthenticator(provider, newTestTokens(newFakeClock(t0)), newTestConfig()).
				WithLogger(auth.NoopLogger()).
				WithActivitySink(sink)

			token, err := auther.Authenticate(context.Background(), "alice", "nope")
			assert.ErrorIs(t, err, tt.err)
			assert.Empty(t, token)
			assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginFailure}, sink.Types())
		})
	}
}
