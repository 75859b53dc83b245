package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the value of the typ claim.
type TokenType string

const (
	TokenTypeAccess      TokenType = "access"
	TokenTypeEmailVerify TokenType = "email_verify"
)

// AccessClaims are carried by login tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	Type      TokenType `json:"typ"`
	UserEmail string    `json:"email,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
}

// EmailVerifyClaims are carried by email verification tokens, the subject
// is the normalized address.
type EmailVerifyClaims struct {
	jwt.RegisteredClaims
	Type TokenType `json:"typ"`
}

// Subject returns the subject claim
func (c *AccessClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Email returns the email claim
func (c *AccessClaims) Email() string {
	return c.UserEmail
}

// HasRole checks the roles claim
func (c *AccessClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Expires returns the expiration time
func (c *AccessClaims) Expires() time.Time {
	return numericTime(c.ExpiresAt)
}

// IssuedAt returns the issued at time
func (c *AccessClaims) IssuedAt() time.Time {
	return numericTime(c.RegisteredClaims.IssuedAt)
}

// Email returns the address the token was minted for
func (c *EmailVerifyClaims) Email() string {
	return c.Subject
}

// JTI returns the token id
func (c *EmailVerifyClaims) JTI() string {
	return c.ID
}

// Expires returns the expiration time
func (c *EmailVerifyClaims) Expires() time.Time {
	return numericTime(c.ExpiresAt)
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time.UTC()
}
