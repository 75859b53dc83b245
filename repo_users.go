package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the user lookup collaborator
type Users interface {
	repository.Repository[*User]

	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)

	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, email string) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, email string) error
}

type users struct {
	repository.Repository[*User]
	db    *bun.DB
	clock Clock
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// NewUsersRepository returns the bun backed Users
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
		clock:      systemClock,
	}
}

// Create normalizes the record and fills defaults before inserting
func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record, a.clock())
	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *users) FindByUsername(ctx context.Context, username string) (*User, error) {
	return a.FindByUsernameTx(ctx, a.db, username)
}

func (a *users) FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	return a.findOne(ctx, tx, "?TableAlias.username = ?", strings.TrimSpace(username))
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

// FindByEmailTx matches the address case insensitively
func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	return a.findOne(ctx, tx, "lower(?TableAlias.email) = ?", NormalizeEmail(email))
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	return a.findOne(ctx, tx, "?TableAlias.id = ?", id)
}

func (a *users) findOne(ctx context.Context, tx bun.IDB, where string, value any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where(where, value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, recordNotFound(map[string]any{
				"identifier": value,
			})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.UpdatePasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", a.clock()).
		Where("id = ?", id).
		Exec(ctx)
	return affectedOrNotFound(res, err, "id", id.String())
}

func (a *users) MarkEmailVerified(ctx context.Context, email string) error {
	return a.MarkEmailVerifiedTx(ctx, a.db, email)
}

// MarkEmailVerifiedTx is idempotent, verifying twice is not an error
func (a *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, email string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("email_verified = ?", true).
		Set("updated_at = ?", a.clock()).
		Where("lower(email) = ?", NormalizeEmail(email)).
		Exec(ctx)
	return affectedOrNotFound(res, err, "email", NormalizeEmail(email))
}

func affectedOrNotFound(res sql.Result, err error, key string, value any) error {
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return recordNotFound(map[string]any{
			key: value,
		})
	}
	return nil
}

// recordNotFound wraps repository.ErrRecordNotFound so
// repository.IsRecordNotFound keeps matching.
func recordNotFound(meta map[string]any) error {
	return errors.Wrap(repository.ErrRecordNotFound, errors.CategoryNotFound, "record not found").
		WithCode(errors.CodeNotFound).
		WithMetadata(meta)
}

func prepareUserDefaults(record *User, now time.Time) {
	if record == nil {
		return
	}

	if !record.Role.IsValid() {
		record.Role = RoleUser
	}

	record.Email = NormalizeEmail(record.Email)
	record.Username = strings.TrimSpace(record.Username)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	record.UpdatedAt = &now
}
