package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService mints and parses the signed tokens used by the package.
type TokenService interface {
	IssueAccessToken(subject, email string, roles []string, ttl time.Duration) (string, error)
	ParseAccessToken(raw string) (*AccessClaims, error)
	IssueEmailVerificationToken(email string, ttl time.Duration) (string, error)
	MintEmailVerificationToken(email string, ttl time.Duration) (string, *EmailVerifyClaims, error)
	ParseEmailVerificationToken(raw string) (*EmailVerifyClaims, error)
}

var _ TokenService = (*TokenServiceImpl)(nil)

// TokenServiceImpl implements TokenService with HS256
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	audience   string
	logger     Logger
	clock      Clock
}

// TokenServiceOption configures a TokenServiceImpl
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock overrides the time source used to mint and validate.
func WithTokenClock(clock Clock) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.clock = clock
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, issuer, audience string, opts ...TokenServiceOption) *TokenServiceImpl {
	ts := &TokenServiceImpl{
		signingKey: signingKey,
		issuer:     issuer,
		audience:   audience,
		logger:     defLogger{},
		clock:      systemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// NewTokenServiceFromConfig wires a TokenService from Config
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) *TokenServiceImpl {
	return NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetIssuer(), cfg.GetAudience(), opts...)
}

// IssueAccessToken creates a login token for subject.
func (ts *TokenServiceImpl) IssueAccessToken(subject, email string, roles []string, ttl time.Duration) (string, error) {
	now := ts.clock()
	claims := &AccessClaims{
		RegisteredClaims: ts.registered(subject, now, ttl),
		Type:             TokenTypeAccess,
		UserEmail:        email,
		Roles:            roles,
	}
	claims.NotBefore = jwt.NewNumericDate(now)
	return ts.sign(claims)
}

// IssueEmailVerificationToken creates a token whose subject is the
// normalized email.
func (ts *TokenServiceImpl) IssueEmailVerificationToken(email string, ttl time.Duration) (string, error) {
	token, _, err := ts.MintEmailVerificationToken(email, ttl)
	return token, err
}

// MintEmailVerificationToken is IssueEmailVerificationToken returning the
// claims as well, so callers can persist jti and lifetime.
func (ts *TokenServiceImpl) MintEmailVerificationToken(email string, ttl time.Duration) (string, *EmailVerifyClaims, error) {
	now := ts.clock()
	claims := &EmailVerifyClaims{
		RegisteredClaims: ts.registered(NormalizeEmail(email), now, ttl),
		Type:             TokenTypeEmailVerify,
	}
	token, err := ts.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (ts *TokenServiceImpl) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	claims := jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if ts.audience != "" {
		claims.Audience = jwt.ClaimStrings{ts.audience}
	}
	return claims
}

func (ts *TokenServiceImpl) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

// ParseAccessToken validates raw as an access token.
func (ts *TokenServiceImpl) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.parse(raw, claims); err != nil {
		if errors.Is(err, ErrExpiredOrUsed) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}

	if claims.Type != TokenTypeAccess {
		ts.logger.Debug("TokenService rejected token with unexpected type", "typ", claims.Type)
		return nil, ErrInvalidToken
	}

	if claims.Subject() == "" || claims.ID == "" || claims.RegisteredClaims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}

	if !ts.clock().Before(claims.Expires()) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// ParseEmailVerificationToken validates raw as an email verification token.
func (ts *TokenServiceImpl) ParseEmailVerificationToken(raw string) (*EmailVerifyClaims, error) {
	claims := &EmailVerifyClaims{}
	if err := ts.parse(raw, claims); err != nil {
		return nil, err
	}

	if claims.Type != TokenTypeEmailVerify {
		ts.logger.Debug("TokenService rejected token with unexpected type", "typ", claims.Type)
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.ID == "" || claims.RegisteredClaims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}

	if !ts.clock().Before(claims.Expires()) {
		return nil, ErrExpiredOrUsed
	}

	return claims, nil
}

// parse verifies signature, algorithm, issuer, audience and time claims.
// Expiry maps to ErrExpiredOrUsed, premature tokens to ErrTokenNotYetValid,
// everything else to ErrInvalidToken.
func (ts *TokenServiceImpl) parse(raw string, claims jwt.Claims) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidToken
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.clock),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if ts.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("TokenService encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
			return ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return ErrExpiredOrUsed
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return ErrTokenNotYetValid
		default:
			ts.logger.Debug("TokenService rejected token", "error", err)
			return ErrInvalidToken
		}
	}

	if !token.Valid {
		return ErrInvalidToken
	}

	return nil
}
