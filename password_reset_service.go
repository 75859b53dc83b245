package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-blog-auth/mail"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultPasswordResetTTL = time.Hour

	resetKeyPrefix = "pw-reset:email:"
)

// TokenReason explains an inspection result
type TokenReason string

const (
	TokenReasonOK        TokenReason = "OK"
	TokenReasonExpired   TokenReason = "EXPIRED"
	TokenReasonUsed      TokenReason = "USED"
	TokenReasonInvalid   TokenReason = "INVALID"
	TokenReasonWrongType TokenReason = "WRONG_TYPE"
)

// TokenInspection is what the reset form learns about a token before the
// user types a new password.
type TokenInspection struct {
	Valid       bool        `json:"valid"`
	Reason      TokenReason `json:"reason"`
	MaskedEmail string      `json:"maskedEmail,omitempty"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
}

// PasswordResetService runs the forgot password flow.
type PasswordResetService struct {
	repo      RepositoryManager
	sender    EmailSender
	limiter   RateLimiter
	hasher    PasswordAuthenticator
	ttl       time.Duration
	retention time.Duration
	linkBase  string
	clock     Clock
	logger    Logger
	activity  ActivitySink
}

// NewPasswordResetService wires the service from cfg
func NewPasswordResetService(repo RepositoryManager, cfg Config) *PasswordResetService {
	s := &PasswordResetService{
		repo:      repo,
		hasher:    BcryptAuthenticator(),
		ttl:       DefaultPasswordResetTTL,
		retention: DefaultTokenRetention,
		clock:     systemClock,
		logger:    defLogger{},
		activity:  noopActivitySink{},
	}
	if cfg != nil {
		if ttl := cfg.GetPasswordResetTTL(); ttl > 0 {
			s.ttl = ttl
		}
		if r := cfg.GetTokenRetention(); r > 0 {
			s.retention = r
		}
		s.linkBase = cfg.GetResetLinkBase()
	}
	return s
}

func (s *PasswordResetService) WithSender(sender EmailSender) *PasswordResetService {
	s.sender = sender
	return s
}

// WithLimiter sets the per email request limiter
func (s *PasswordResetService) WithLimiter(limiter RateLimiter) *PasswordResetService {
	s.limiter = limiter
	return s
}

func (s *PasswordResetService) WithHasher(hasher PasswordAuthenticator) *PasswordResetService {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

func (s *PasswordResetService) WithLogger(logger Logger) *PasswordResetService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *PasswordResetService) WithClock(clock Clock) *PasswordResetService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *PasswordResetService) WithActivitySink(sink ActivitySink) *PasswordResetService {
	s.activity = normalizeActivitySink(sink)
	return s
}

// IssueToken emails a reset link when email belongs to an account. The
// result never depends on that, only on the per address rate limit.
func (s *PasswordResetService) IssueToken(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	key := resetKeyPrefix + email
	if s.limiter != nil && !s.limiter.TryConsume(key) {
		retryAfter := s.limiter.SecondsUntilNextToken(key)
		s.logger.Debug("Password reset rate limited", "email", MaskEmail(email), "retry_after", retryAfter)
		emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
			EventType: ActivityEventRateLimited,
			Metadata: map[string]any{
				"scope":       "password_reset_email",
				"retry_after": retryAfter,
			},
		})
		return NewRateLimitedError(retryAfter)
	}

	user, err := s.repo.Users().FindByEmail(ctx, email)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			s.logger.Error("Password reset lookup failed", "error", err)
		}
		return nil
	}

	var token uuid.UUID
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = s.issueTokenTx(ctx, tx, user)
		return err
	})
	if err != nil {
		s.logger.Error("Password reset token not stored", "user_id", user.ID.String(), "error", err)
		return nil
	}

	emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		UserID:    user.ID.String(),
	})

	s.sendResetEmail(ctx, user, token)
	return nil
}

func (s *PasswordResetService) issueTokenTx(ctx context.Context, tx bun.IDB, user *User) (uuid.UUID, error) {
	now := s.clock()
	store := s.repo.PasswordResets()

	if _, err := store.RevokeOutstandingTx(ctx, tx, user.ID, now); err != nil {
		return uuid.Nil, err
	}

	record := &PasswordResetToken{
		Token:     uuid.New(),
		UserID:    user.ID,
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(s.ttl).UTC(),
	}
	if err := store.CreateTx(ctx, tx, record); err != nil {
		return uuid.Nil, err
	}
	return record.Token, nil
}

func (s *PasswordResetService) sendResetEmail(ctx context.Context, user *User, token uuid.UUID) {
	body, err := mail.RenderPasswordReset(mail.LinkData{
		Username: user.Username,
		Link:     mail.TokenLink(s.linkBase, token.String()),
		TTL:      s.ttl,
	})
	if err != nil {
		s.logger.Error("Password reset email render failed", "error", err)
		return
	}

	if s.sender == nil {
		s.logger.Warn("Password reset email dropped, no sender configured", "user_id", user.ID.String())
		return
	}

	if err := s.sender.Send(ctx, user.Email, mail.PasswordResetSubject, body); err != nil {
		s.logger.Warn("Password reset email delivery failed", "email", MaskEmail(user.Email), "error", err)
		emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
			EventType: ActivityEventEmailDeliveryFailure,
			UserID:    user.ID.String(),
			Metadata: map[string]any{
				"kind": "password_reset",
			},
		})
	}
}

// IsTokenUsable reports whether raw is an active reset token
func (s *PasswordResetService) IsTokenUsable(ctx context.Context, raw string) (bool, error) {
	token, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false, nil
	}

	_, err = s.repo.PasswordResets().FindActive(ctx, token, s.clock())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Inspect classifies raw without consuming it.
func (s *PasswordResetService) Inspect(ctx context.Context, raw string) (*TokenInspection, error) {
	raw = strings.TrimSpace(raw)

	token, err := uuid.Parse(raw)
	if err != nil {
		if looksLikeJWT(raw) {
			return &TokenInspection{Reason: TokenReasonWrongType}, nil
		}
		return &TokenInspection{Reason: TokenReasonInvalid}, nil
	}

	record, err := s.repo.PasswordResets().Find(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return &TokenInspection{Reason: TokenReasonInvalid}, nil
		}
		return nil, err
	}

	expiresAt := record.ExpiresAt
	if record.Used() {
		return &TokenInspection{Reason: TokenReasonUsed, ExpiresAt: &expiresAt}, nil
	}

	if !record.IsActive(s.clock()) {
		return &TokenInspection{Reason: TokenReasonExpired, ExpiresAt: &expiresAt}, nil
	}

	inspection := &TokenInspection{
		Valid:     true,
		Reason:    TokenReasonOK,
		ExpiresAt: &expiresAt,
	}

	user, err := s.repo.Users().FindByID(ctx, record.UserID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return &TokenInspection{Reason: TokenReasonInvalid}, nil
		}
		return nil, err
	}
	inspection.MaskedEmail = MaskEmail(user.Email)

	return inspection, nil
}

// ResetPassword sets a new password and burns the token in one
// transaction. Every token problem surfaces as ErrResetTokenInvalid.
func (s *PasswordResetService) ResetPassword(ctx context.Context, raw, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	token, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrResetTokenInvalid
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return err
	}

	var userID uuid.UUID
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.clock()
		store := s.repo.PasswordResets()

		record, err := store.FindActiveTx(ctx, tx, token, now)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrResetTokenInvalid
			}
			return err
		}
		userID = record.UserID

		if err := s.repo.Users().UpdatePasswordTx(ctx, tx, record.UserID, hash); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrResetTokenInvalid
			}
			return err
		}

		consumed, err := store.ConsumeTx(ctx, tx, token, now)
		if err != nil {
			return err
		}
		if !consumed {
			return ErrResetTokenInvalid
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
				EventType: ActivityEventPasswordResetFailure,
			})
		}
		return err
	}

	emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    userID.String(),
	})
	return nil
}

// CleanupExpired deletes tokens past the retention window
func (s *PasswordResetService) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.retention)
	n, err := s.repo.PasswordResets().Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.logger.Info("Password reset tokens cleaned", "deleted", n, "cutoff", cutoff)
	}
	emitActivity(ctx, s.activity, s.logger, s.clock, ActivityEvent{
		EventType: ActivityEventTokensCleaned,
		Metadata: map[string]any{
			"table":   "password_reset_tokens",
			"deleted": n,
		},
	})
	return n, nil
}

func looksLikeJWT(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
