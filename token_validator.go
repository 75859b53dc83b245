package auth

// AccessTokenValidator validates access tokens, *TokenServiceImpl
// satisfies it.
type AccessTokenValidator interface {
	ParseAccessToken(raw string) (*AccessClaims, error)
}

// AccessTokenValidatorFunc adapts a function into an AccessTokenValidator
type AccessTokenValidatorFunc func(raw string) (*AccessClaims, error)

func (f AccessTokenValidatorFunc) ParseAccessToken(raw string) (*AccessClaims, error) {
	if f == nil {
		return nil, ErrInvalidToken
	}
	return f(raw)
}

// MultiTokenValidator tries validators in order until one succeeds. Used
// while rotating signing keys: the current key comes first, retired keys
// after it.
//
// Only ErrInvalidToken moves on to the next validator. An expired or
// premature token was signed by a key we trust, so the search stops there.
type MultiTokenValidator struct {
	validators []AccessTokenValidator
}

// NewMultiTokenValidator drops nil validators
func NewMultiTokenValidator(validators ...AccessTokenValidator) *MultiTokenValidator {
	filtered := make([]AccessTokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

func (m *MultiTokenValidator) ParseAccessToken(raw string) (*AccessClaims, error) {
	for _, v := range m.validators {
		claims, err := v.ParseAccessToken(raw)
		if err == nil {
			return claims, nil
		}
		if HasTextCode(err, TextCodeInvalidToken) {
			continue
		}
		return nil, err
	}
	return nil, ErrInvalidToken
}

// NewRotatingTokenValidator accepts access tokens signed with the key in
// cfg or any of the retired keys.
func NewRotatingTokenValidator(cfg Config, retired []string, opts ...TokenServiceOption) *MultiTokenValidator {
	validators := []AccessTokenValidator{NewTokenServiceFromConfig(cfg, opts...)}
	for _, key := range retired {
		if key == "" {
			continue
		}
		validators = append(validators, NewTokenService([]byte(key), cfg.GetIssuer(), cfg.GetAudience(), opts...))
	}
	return NewMultiTokenValidator(validators...)
}
