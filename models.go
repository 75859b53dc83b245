package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	EmailVerified bool       `bun:"email_verified,notnull" json:"email_verified"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Authorities returns the roles claim for the user
func (u *User) Authorities() []string {
	role := u.Role
	if !role.IsValid() {
		role = RoleUser
	}
	return []string{role.Authority()}
}

// EmailVerificationToken is the persisted record of a minted verification
// token, keyed by its jti.
type EmailVerificationToken struct {
	bun.BaseModel `bun:"table:email_verification_tokens,alias:evt"`
	JTI           uuid.UUID  `bun:"jti,pk,type:uuid" json:"jti"`
	Email         string     `bun:"email,notnull" json:"email"`
	IssuedAt      time.Time  `bun:"issued_at,notnull" json:"issued_at"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
}

// Used reports whether the token was consumed or revoked
func (t *EmailVerificationToken) Used() bool {
	return t.UsedAt != nil
}

// IsActive reports whether the token can still be consumed at now
func (t *EmailVerificationToken) IsActive(now time.Time) bool {
	return !t.Used() && t.ExpiresAt.After(now)
}

// PasswordResetToken is an opaque single use credential for a user.
type PasswordResetToken struct {
	bun.BaseModel `bun:"table:password_reset_tokens,alias:prt"`
	Token         uuid.UUID  `bun:"token,pk,type:uuid" json:"token"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
}

// Used reports whether the token was consumed
func (t *PasswordResetToken) Used() bool {
	return t.UsedAt != nil
}

// IsActive reports whether the token can still be consumed at now
func (t *PasswordResetToken) IsActive(now time.Time) bool {
	return !t.Used() && t.ExpiresAt.After(now)
}
