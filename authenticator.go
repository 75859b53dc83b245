package auth

import (
	"context"
	"time"
)

// DefaultAccessTokenTTL applies when configuration leaves it unset
const DefaultAccessTokenTTL = 60 * time.Minute

// Auther exchanges credentials for access tokens
type Auther struct {
	provider     IdentityProvider
	tokenService TokenService
	accessTTL    time.Duration
	logger       Logger
	clock        Clock
	activitySink ActivitySink
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, tokens TokenService, cfg Config) *Auther {
	ttl := DefaultAccessTokenTTL
	if cfg != nil && cfg.GetAccessTokenTTL() > 0 {
		ttl = cfg.GetAccessTokenTTL()
	}

	return &Auther{
		provider:     provider,
		tokenService: tokens,
		accessTTL:    ttl,
		logger:       defLogger{},
		clock:        systemClock,
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Authenticate verifies the credentials and returns a signed access token
// whose subject is the username.
func (s *Auther) Authenticate(ctx context.Context, username, password string) (string, error) {
	identity, err := s.provider.VerifyIdentity(ctx, username, password)
	if err != nil {
		s.logger.Warn("Login verify identity failed", "username", username, "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, "", map[string]any{
			"username": username,
			"error":    err.Error(),
		})
		return "", err
	}

	roles := []string{ParseRole(identity.Role()).Authority()}
	token, err := s.tokenService.IssueAccessToken(identity.Username(), identity.Email(), roles, s.accessTTL)
	if err != nil {
		s.logger.Error("Login failed to issue token", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, identity.ID(), map[string]any{
			"username": username,
			"error":    err.Error(),
		})
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, identity.ID(), map[string]any{
		"username": username,
	})

	return token, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, userID string, metadata map[string]any) {
	emitActivity(ctx, s.activitySink, s.logger, s.clock, ActivityEvent{
		EventType: eventType,
		UserID:    userID,
		Metadata:  metadata,
	})
}
