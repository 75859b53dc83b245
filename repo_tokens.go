package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RevokeStrategy picks how outstanding tokens are retired when a new one
// is issued for the same owner.
type RevokeStrategy int

const (
	// RevokeByConsume marks outstanding tokens as used
	RevokeByConsume RevokeStrategy = iota
	// RevokeByExpire moves expires_at to now
	RevokeByExpire
)

// TokenStoreConfig describes the table layout of a single use token model.
// Every model must carry expires_at and used_at columns.
type TokenStoreConfig struct {
	KeyColumn            string
	OwnerColumn          string
	OwnerCaseInsensitive bool
	Revoke               RevokeStrategy
}

// TokenStore is the persistence contract for single use tokens keyed by
// jti or opaque value.
type TokenStore[T any] interface {
	Create(ctx context.Context, record *T) error
	CreateTx(ctx context.Context, tx bun.IDB, record *T) error
	Find(ctx context.Context, key any) (*T, error)
	FindTx(ctx context.Context, tx bun.IDB, key any) (*T, error)
	FindActive(ctx context.Context, key any, now time.Time) (*T, error)
	FindActiveTx(ctx context.Context, tx bun.IDB, key any, now time.Time) (*T, error)
	Consume(ctx context.Context, key any, now time.Time) (bool, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, key any, now time.Time) (bool, error)
	RevokeOutstanding(ctx context.Context, owner any, now time.Time) (int64, error)
	RevokeOutstandingTx(ctx context.Context, tx bun.IDB, owner any, now time.Time) (int64, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// SingleUseTokens persists single use tokens of model T. Consumption is a
// conditional update so concurrent consumers race in the database and
// exactly one wins.
type SingleUseTokens[T any] struct {
	db  *bun.DB
	cfg TokenStoreConfig
}

var (
	_ TokenStore[EmailVerificationToken] = (*SingleUseTokens[EmailVerificationToken])(nil)
	_ TokenStore[PasswordResetToken]     = (*SingleUseTokens[PasswordResetToken])(nil)
)

// NewSingleUseTokens returns a store for T
func NewSingleUseTokens[T any](db *bun.DB, cfg TokenStoreConfig) *SingleUseTokens[T] {
	return &SingleUseTokens[T]{db: db, cfg: cfg}
}

// DB returns the underlying handle
func (s *SingleUseTokens[T]) DB() *bun.DB {
	return s.db
}

func (s *SingleUseTokens[T]) Create(ctx context.Context, record *T) error {
	return s.CreateTx(ctx, s.db, record)
}

func (s *SingleUseTokens[T]) CreateTx(ctx context.Context, tx bun.IDB, record *T) error {
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to persist token")
	}
	return nil
}

func (s *SingleUseTokens[T]) Find(ctx context.Context, key any) (*T, error) {
	return s.FindTx(ctx, s.db, key)
}

// FindTx loads a token regardless of its state
func (s *SingleUseTokens[T]) FindTx(ctx context.Context, tx bun.IDB, key any) (*T, error) {
	record := new(T)
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(s.cfg.KeyColumn), key).
		Limit(1).
		Scan(ctx)
	return s.scanResult(record, key, err)
}

func (s *SingleUseTokens[T]) FindActive(ctx context.Context, key any, now time.Time) (*T, error) {
	return s.FindActiveTx(ctx, s.db, key, now)
}

// FindActiveTx loads a token that is neither used nor expired at now
func (s *SingleUseTokens[T]) FindActiveTx(ctx context.Context, tx bun.IDB, key any, now time.Time) (*T, error) {
	record := new(T)
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(s.cfg.KeyColumn), key).
		Where("?TableAlias.used_at IS NULL").
		Where("?TableAlias.expires_at > ?", now.UTC()).
		Limit(1).
		Scan(ctx)
	return s.scanResult(record, key, err)
}

func (s *SingleUseTokens[T]) Consume(ctx context.Context, key any, now time.Time) (bool, error) {
	return s.ConsumeTx(ctx, s.db, key, now)
}

// ConsumeTx marks the token used iff it is still active. It reports false
// when another consumer got there first or the token lapsed.
func (s *SingleUseTokens[T]) ConsumeTx(ctx context.Context, tx bun.IDB, key any, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := tx.NewUpdate().
		Model((*T)(nil)).
		Set("used_at = ?", now).
		Where("? = ?", bun.Ident(s.cfg.KeyColumn), key).
		Where("used_at IS NULL").
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to consume token")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to read affected rows")
	}
	return n == 1, nil
}

func (s *SingleUseTokens[T]) RevokeOutstanding(ctx context.Context, owner any, now time.Time) (int64, error) {
	return s.RevokeOutstandingTx(ctx, s.db, owner, now)
}

// RevokeOutstandingTx retires every active token of owner.
func (s *SingleUseTokens[T]) RevokeOutstandingTx(ctx context.Context, tx bun.IDB, owner any, now time.Time) (int64, error) {
	now = now.UTC()
	q := tx.NewUpdate().Model((*T)(nil))

	switch s.cfg.Revoke {
	case RevokeByExpire:
		q = q.Set("expires_at = ?", now)
	default:
		q = q.Set("used_at = ?", now)
	}

	if str, ok := owner.(string); ok && s.cfg.OwnerCaseInsensitive {
		q = q.Where("lower(?) = ?", bun.Ident(s.cfg.OwnerColumn), NormalizeEmail(str))
	} else {
		q = q.Where("? = ?", bun.Ident(s.cfg.OwnerColumn), owner)
	}

	res, err := q.
		Where("used_at IS NULL").
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to revoke outstanding tokens")
	}
	return res.RowsAffected()
}

// Cleanup deletes tokens that expired before cutoff, or were used before it.
func (s *SingleUseTokens[T]) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	res, err := s.db.NewDelete().
		Model((*T)(nil)).
		Where("expires_at < ?", cutoff).
		WhereOr("used_at IS NOT NULL AND used_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to clean up tokens")
	}
	return res.RowsAffected()
}

func (s *SingleUseTokens[T]) scanResult(record *T, key any, err error) (*T, error) {
	if err == nil {
		return record, nil
	}
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return nil, recordNotFound(map[string]any{
			s.cfg.KeyColumn: key,
		})
	}
	return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load token")
}
