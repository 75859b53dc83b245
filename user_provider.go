package auth

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// UserStore is the subset of Users the provider reads from
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// UserProvider handles users
type UserProvider struct {
	store     UserStore
	hasher    PasswordAuthenticator
	Validator func(*User) error
	logger    Logger
}

var _ IdentityProvider = (*UserProvider)(nil)

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserStore) *UserProvider {
	return &UserProvider{
		store:     store,
		hasher:    BcryptAuthenticator(),
		logger:    defLogger{},
		Validator: defaultValidator,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

func (u *UserProvider) WithHasher(h PasswordAuthenticator) *UserProvider {
	if h != nil {
		u.hasher = h
	}
	return u
}

func (u *UserProvider) validate(user *User) error {
	if u.Validator != nil {
		return u.Validator(user)
	}
	return defaultValidator(user)
}

// VerifyIdentity checks username and password. Failures are reported in
// order: ErrUserNotFound, ErrBadCredentials, ErrEmailNotVerified.
func (u *UserProvider) VerifyIdentity(ctx context.Context, username, password string) (Identity, error) {
	user, err := u.store.FindByUsername(ctx, username)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if err := u.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return NewIdentityFromUser(user), nil
}

// FindIdentityByIdentifier looks up an identity by username
func (u *UserProvider) FindIdentityByIdentifier(ctx context.Context, username string) (Identity, error) {
	user, err := u.store.FindByUsername(ctx, username)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve identity")
	}

	return NewIdentityFromUser(user), nil
}

func defaultValidator(user *User) error {
	if !user.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}
