package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Users() Users
	EmailVerifications() TokenStore[EmailVerificationToken]
	PasswordResets() TokenStore[PasswordResetToken]
}

// NewEmailVerificationsRepository keys tokens by jti and revokes by
// marking them used.
func NewEmailVerificationsRepository(db *bun.DB) *SingleUseTokens[EmailVerificationToken] {
	return NewSingleUseTokens[EmailVerificationToken](db, TokenStoreConfig{
		KeyColumn:            "jti",
		OwnerColumn:          "email",
		OwnerCaseInsensitive: true,
		Revoke:               RevokeByConsume,
	})
}

// NewPasswordResetsRepository keys tokens by the opaque value and revokes
// by expiring them.
func NewPasswordResetsRepository(db *bun.DB) *SingleUseTokens[PasswordResetToken] {
	return NewSingleUseTokens[PasswordResetToken](db, TokenStoreConfig{
		KeyColumn:   "token",
		OwnerColumn: "user_id",
		Revoke:      RevokeByExpire,
	})
}

type mngr struct {
	db                 *bun.DB
	users              Users
	emailVerifications *SingleUseTokens[EmailVerificationToken]
	passwordResets     *SingleUseTokens[PasswordResetToken]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:                 db,
		users:              NewUsersRepository(db),
		emailVerifications: NewEmailVerificationsRepository(db),
		passwordResets:     NewPasswordResetsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.emailVerifications == nil {
		return errors.New("repository emailVerifications should be initialized")
	}

	if m.passwordResets == nil {
		return errors.New("repository passwordResets should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) EmailVerifications() TokenStore[EmailVerificationToken] {
	return m.emailVerifications
}

func (m mngr) PasswordResets() TokenStore[PasswordResetToken] {
	return m.passwordResets
}
