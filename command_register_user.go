package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	UseHashid bool   `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler creates accounts and sends the first verification
// email. The account is kept when delivery fails, the caller gets
// ErrEmailDelivery and the user can ask for a resend.
type RegisterUserHandler struct {
	repo     RepositoryManager
	verifier *EmailVerificationService
	logger   Logger
	activity ActivitySink
	clock    Clock
}

func NewRegisterUserHandler(repo RepositoryManager, verifier *EmailVerificationService) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		verifier: verifier,
		logger:   defLogger{},
		activity: noopActivitySink{},
		clock:    systemClock,
	}
}

func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := ValidatePassword(event.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:     getUsername(event.Username, event.Email),
		Email:        NormalizeEmail(event.Email),
		PasswordHash: hash,
		Role:         RoleUser,
	}
	if event.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		users := h.repo.Users()

		if _, err := users.FindByUsernameTx(ctx, tx, user.Username); err == nil {
			return ErrDuplicateIdentity
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		if _, err := users.FindByEmailTx(ctx, tx, user.Email); err == nil {
			return ErrDuplicateIdentity
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		created, err := users.CreateTx(ctx, tx, user)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}
		user = created
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	emitActivity(ctx, h.activity, h.logger, h.clock, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		UserID:    user.ID.String(),
	})

	if h.verifier == nil {
		return user, nil
	}

	if err := h.verifier.SendVerification(ctx, user); err != nil {
		h.logger.Warn("Registration verification email failed", "user_id", user.ID.String(), "error", err)
		if !IsEmailDelivery(err) {
			err = emailDeliveryError(err)
		}
		return user, err
	}

	return user, nil
}

func getUsername(username, email string) string {
	if username = strings.TrimSpace(username); username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
