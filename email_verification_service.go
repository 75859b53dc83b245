package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-blog-auth/mail"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultEmailVerificationTTL = 45 * time.Minute
	DefaultTokenRetention       = 7 * 24 * time.Hour

	resendKeyPrefix = "verify:email:"
)

// EmailVerificationService issues and redeems email verification tokens.
type EmailVerificationService struct {
	repo      RepositoryManager
	tokens    TokenService
	sender    EmailSender
	limiter   RateLimiter
	ttl       time.Duration
	retention time.Duration
	linkBase  string
	clock     Clock
	logger    Logger
	activity  ActivitySink
}

// NewEmailVerificationService wires the service from cfg
func NewEmailVerificationService(repo RepositoryManager, tokens TokenService, cfg Config) *EmailVerificationService {
	s := &EmailVerificationService{
		repo:      repo,
		tokens:    tokens,
		ttl:       DefaultEmailVerificationTTL,
		retention: DefaultTokenRetention,
		clock:     systemClock,
		logger:    defLogger{},
		activity:  noopActivitySink{},
	}
	if cfg != nil {
		if ttl := cfg.GetEmailVerificationTTL(); ttl != 0 {
			s.ttl = ttl
		}
		if r := cfg.GetTokenRetention(); r > 0 {
			s.retention = r
		}
		s.linkBase = cfg.GetVerifyLinkBase()
	}
	return s
}

func (s *EmailVerificationService) WithSender(sender EmailSender) *EmailVerificationService {
	s.sender = sender
	return s
}

// WithLimiter sets the per email resend limiter
func (s *EmailVerificationService) WithLimiter(limiter RateLimiter) *EmailVerificationService {
	s.limiter = limiter
	return s
}

func (s *EmailVerificationService) WithLogger(logger Logger) *EmailVerificationService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *EmailVerificationService) WithClock(clock Clock) *EmailVerificationService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *EmailVerificationService) WithActivitySink(sink ActivitySink) *EmailVerificationService {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithTTL overrides the token lifetime. A non positive ttl mints tokens
// that are already expired.
func (s *EmailVerificationService) WithTTL(ttl time.Duration) *EmailVerificationService {
	s.ttl = ttl
	return s
}

// GenerateToken revokes outstanding tokens for email, then mints and
// stores a new one, all in one transaction.
func (s *EmailVerificationService) GenerateToken(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	var token string

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = s.generateTokenTx(ctx, tx, email)
		return err
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

func (s *EmailVerificationService) generateTokenTx(ctx context.Context, tx bun.IDB, email string) (string, error) {
	now := s.clock()
	store := s.repo.EmailVerifications()

	revoked, err := store.RevokeOutstandingTx(ctx, tx, email, now)
	if err != nil {
		return "", err
	}

	token, claims, err := s.tokens.MintEmailVerificationToken(email, s.ttl)
	if err != nil {
		return "", err
	}

	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "minted token has a malformed jti")
	}

	record := &EmailVerificationToken{
		JTI:       jti,
		Email:     email,
		IssuedAt:  claims.RegisteredClaims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.Expires(),
	}
	if err := store.CreateTx(ctx, tx, record); err != nil {
		return "", err
	}

	s.logger.Debug("Email verification token issued", "jti", jti.String(), "revoked", revoked)
	return token, nil
}

// ValidateAndConsume redeems raw and returns the address it was minted
// for. Invalid tokens fail with ErrInvalidToken, expired or used ones with
// ErrExpiredOrUsed.
func (s *EmailVerificationService) ValidateAndConsume(ctx context.Context, raw string) (string, error) {
	var email string

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		email, err = s.ValidateAndConsumeTx(ctx, tx, raw)
		return err
	})
	if err != nil {
		return "", err
	}

	return email, nil
}

func (s *EmailVerificationService) ValidateAndConsumeTx(ctx context.Context, tx bun.IDB, raw string) (string, error) {
	claims, err := s.tokens.ParseEmailVerificationToken(raw)
	if err != nil {
		return "", err
	}

	now := s.clock()
	if !now.Before(claims.Expires()) {
		return "", ErrExpiredOrUsed
	}

	jti, err := uuid.Parse(claims.JTI())
	if err != nil {
		return "", ErrInvalidToken
	}

	store := s.repo.EmailVerifications()
	record, err := store.FindActiveTx(ctx, tx, jti, now)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return "", ErrExpiredOrUsed
		}
		return "", err
	}

	if NormalizeEmail(claims.Email()) != NormalizeEmail(record.Email) {
		s.logger.Warn("Email verification token does not match its record", "jti", jti.String())
		return "", ErrInvalidToken
	}

	consumed, err := store.ConsumeTx(ctx, tx, jti, now)
	if err != nil {
		return "", err
	}
	if !consumed {
		return "", ErrExpiredOrUsed
	}

	return record.Email, nil
}

// Verify consumes raw and marks the owner verified in one transaction. A
// token for an address with no account is invalid and nothing is
// consumed.
func (s *EmailVerificationService) Verify(ctx context.Context, raw string) error {
	var email string

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if email, err = s.ValidateAndConsumeTx(ctx, tx, raw); err != nil {
			return err
		}

		if err := s.repo.Users().MarkEmailVerifiedTx(ctx, tx, email); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrInvalidToken
			}
			return err
		}
		return nil
	})

	if err != nil {
		emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
			EventType: ActivityEventEmailVerificationFailure,
			Metadata: map[string]any{
				"status": TokenStatusOf(err).String(),
			},
		})
		return err
	}

	emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Metadata: map[string]any{
			"email": MaskEmail(email),
		},
	})
	return nil
}

// Resend sends a fresh link to an unverified account. It reports nothing
// about whether the account exists, rate limited and unknown addresses are
// silently dropped.
func (s *EmailVerificationService) Resend(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	if s.limiter != nil && !s.limiter.TryConsume(resendKeyPrefix+email) {
		s.logger.Debug("Verification resend rate limited", "email", MaskEmail(email))
		emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
			EventType: ActivityEventRateLimited,
			Metadata: map[string]any{
				"scope": "verify_resend_email",
			},
		})
		return nil
	}

	user, err := s.repo.Users().FindByEmail(ctx, email)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			s.logger.Error("Verification resend lookup failed", "error", err)
		}
		return nil
	}

	if user.EmailVerified {
		return nil
	}

	if err := s.SendVerification(ctx, user); err != nil {
		s.logger.Warn("Verification resend delivery failed", "email", MaskEmail(email), "error", err)
	}
	return nil
}

// SendVerification mints a token for user and emails the confirm link.
func (s *EmailVerificationService) SendVerification(ctx context.Context, user *User) error {
	token, err := s.GenerateToken(ctx, user.Email)
	if err != nil {
		return err
	}

	body, err := mail.RenderVerification(mail.LinkData{
		Username: user.Username,
		Link:     mail.TokenLink(s.linkBase, token),
		TTL:      s.ttl,
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to render verification email")
	}

	emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
		EventType: ActivityEventVerificationIssued,
		UserID:    user.ID.String(),
	})

	if s.sender == nil {
		return emailDeliveryError(errors.New("no email sender configured", errors.CategoryInternal))
	}

	if err := s.sender.SendHTML(ctx, user.Email, mail.VerificationSubject, body); err != nil {
		emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
			EventType: ActivityEventEmailDeliveryFailure,
			UserID:    user.ID.String(),
			Metadata: map[string]any{
				"kind": "verification",
			},
		})
		return emailDeliveryError(err)
	}
	return nil
}

// CleanupExpired deletes tokens that expired, or were used, before the
// retention window.
func (s *EmailVerificationService) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.retention)
	n, err := s.repo.EmailVerifications().Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.logger.Info("Email verification tokens cleaned", "deleted", n, "cutoff", cutoff)
	}
	emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
		EventType: ActivityEventTokensCleaned,
		Metadata: map[string]any{
			"table":   "email_verification_tokens",
			"deleted": n,
		},
	})
	return n, nil
}

func emailDeliveryError(err error) error {
	return errors.Wrap(err, ErrEmailDelivery.Category, ErrEmailDelivery.Message).
		WithTextCode(ErrEmailDelivery.TextCode).
		WithCode(ErrEmailDelivery.Code)
}
