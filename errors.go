package auth

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

// Text codes surfaced to HTTP clients.
const (
	TextCodeInvalidToken      = "INVALID_TOKEN"
	TextCodeTokenNotYetValid  = "TOKEN_NOT_YET_VALID"
	TextCodeResetTokenInvalid = "RESET_TOKEN_INVALID"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeExpiredOrUsed     = "TOKEN_EXPIRED_OR_USED"
	TextCodeBadCredentials    = "BAD_CREDENTIALS"
	TextCodeUserNotFound      = "USER_NOT_FOUND"
	TextCodeEmailNotVerified  = "EMAIL_NOT_VERIFIED"
	TextCodeWeakPassword      = "WEAK_PASSWORD"
	TextCodeEmailDelivery     = "EMAIL_DELIVERY_FAILED"
	TextCodeRateLimited       = "RATE_LIMITED"
	TextCodeIdentityNotFound  = "IDENTITY_NOT_FOUND"
	TextCodeEmptyPassword     = "EMPTY_PASSWORD"
	TextCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
)

// MetaRetryAfter is the metadata key carrying the wait in seconds on
// rate limited errors.
const MetaRetryAfter = "retry_after"

var (
	// ErrInvalidToken covers bad signatures, wrong issuer or audience, wrong
	// token type, missing claims and unknown records.
	ErrInvalidToken = errors.New("invalid token", errors.CategoryAuth).
			WithTextCode(TextCodeInvalidToken).
			WithCode(http.StatusGone)

	// ErrTokenNotYetValid is part of the invalid token family, raised when
	// nbf is in the future.
	ErrTokenNotYetValid = errors.New("token not yet valid", errors.CategoryAuth).
				WithTextCode(TextCodeTokenNotYetValid).
				WithCode(http.StatusGone)

	// ErrTokenExpired is returned for expired access tokens.
	ErrTokenExpired = errors.New("token expired", errors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(errors.CodeUnauthorized)

	// ErrExpiredOrUsed is returned for single use tokens past their
	// lifetime or already consumed.
	ErrExpiredOrUsed = errors.New("token expired or already used", errors.CategoryAuth).
				WithTextCode(TextCodeExpiredOrUsed).
				WithCode(http.StatusGone)

	// ErrResetTokenInvalid is the one message every password reset failure
	// collapses into.
	ErrResetTokenInvalid = errors.New("invalid or expired token", errors.CategoryAuth).
				WithTextCode(TextCodeResetTokenInvalid).
				WithCode(http.StatusGone)

	ErrBadCredentials = errors.New("invalid username or password", errors.CategoryAuth).
				WithTextCode(TextCodeBadCredentials).
				WithCode(errors.CodeUnauthorized)

	// ErrUserNotFound is reported to clients as ErrBadCredentials.
	ErrUserNotFound = errors.New("user not found", errors.CategoryAuth).
			WithTextCode(TextCodeUserNotFound).
			WithCode(errors.CodeUnauthorized)

	ErrEmailNotVerified = errors.New("email address not verified", errors.CategoryAuthz).
				WithTextCode(TextCodeEmailNotVerified).
				WithCode(errors.CodeForbidden)

	ErrWeakPassword = errors.New("password does not meet the policy", errors.CategoryValidation).
			WithTextCode(TextCodeWeakPassword).
			WithCode(errors.CodeBadRequest)

	// ErrEmailDelivery is retryable by the caller.
	ErrEmailDelivery = errors.New("unable to deliver email", errors.CategoryOperation).
				WithTextCode(TextCodeEmailDelivery).
				WithCode(http.StatusServiceUnavailable)

	ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
				WithTextCode(TextCodeIdentityNotFound).
				WithCode(errors.CodeNotFound)

	ErrNoEmptyString = errors.New("password can not be empty", errors.CategoryBadInput).
				WithTextCode(TextCodeEmptyPassword).
				WithCode(errors.CodeBadRequest)

	ErrDuplicateIdentity = errors.New("username or email already registered", errors.CategoryConflict).
				WithTextCode(TextCodeDuplicateIdentity).
				WithCode(errors.CodeConflict)
)

// NewRateLimitedError builds a 429 error carrying the seconds until the
// next permit.
func NewRateLimitedError(retryAfter int) *errors.Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return errors.New("too many requests", errors.CategoryRateLimit).
		WithTextCode(TextCodeRateLimited).
		WithCode(http.StatusTooManyRequests).
		WithMetadata(map[string]any{
			MetaRetryAfter: retryAfter,
		})
}

// IsRateLimited reports whether err was produced by NewRateLimitedError.
func IsRateLimited(err error) bool {
	return HasTextCode(err, TextCodeRateLimited)
}

// RetryAfter returns the retry hint of a rate limited error, 0 otherwise.
func RetryAfter(err error) int {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.TextCode != TextCodeRateLimited {
		return 0
	}
	if n, ok := richErr.Metadata[MetaRetryAfter].(int); ok {
		return n
	}
	return 0
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsWeakPassword reports password policy failures.
func IsWeakPassword(err error) bool {
	return HasTextCode(err, TextCodeWeakPassword)
}

// IsEmailDelivery reports outbound mail failures.
func IsEmailDelivery(err error) bool {
	return HasTextCode(err, TextCodeEmailDelivery)
}

// TokenStatus is the outcome of parsing or consuming a single use token.
type TokenStatus int

const (
	TokenValid TokenStatus = iota
	TokenInvalid
	TokenExpiredOrUsed
)

func (s TokenStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpiredOrUsed:
		return "expired"
	default:
		return "invalid"
	}
}

// TokenStatusOf classifies a token error. Anything unknown is invalid.
func TokenStatusOf(err error) TokenStatus {
	switch {
	case err == nil:
		return TokenValid
	case errors.Is(err, ErrExpiredOrUsed), errors.Is(err, ErrTokenExpired):
		return TokenExpiredOrUsed
	default:
		return TokenInvalid
	}
}

// HTTPStatusOf maps an error to the status code sent to clients.
func HTTPStatusOf(err error) int {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}
