package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-blog-auth/middleware/ratelimitware"
	"github.com/goliatone/go-blog-auth/ratelimit"
)

// LoginService exchanges credentials for an access token, *Auther
// implements it.
type LoginService interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// Registrar creates accounts, *RegisterUserHandler implements it.
type Registrar interface {
	Execute(ctx context.Context, msg RegisterUserMessage) (*User, error)
}

// EmailVerifier is the slice of *EmailVerificationService the API uses
type EmailVerifier interface {
	Verify(ctx context.Context, raw string) error
	Resend(ctx context.Context, email string) error
}

// PasswordResetter is the slice of *PasswordResetService the API uses
type PasswordResetter interface {
	IssueToken(ctx context.Context, email string) error
	Inspect(ctx context.Context, raw string) (*TokenInspection, error)
	ResetPassword(ctx context.Context, raw, newPassword string) error
}

type AuthControllerRoutes struct {
	Login         string
	Register      string
	ConfirmEmail  string
	Resend        string
	Forgot        string
	Validate      string
	ResetLink     string
	PasswordReset string
	Me            string
}

type AuthController struct {
	Debug      bool
	Logger     Logger
	Routes     *AuthControllerRoutes
	WebBaseURL string

	Auther    LoginService
	Registrar Registrar
	Verifier  EmailVerifier
	Resetter  PasswordResetter

	// AuthGuard protects the Me route, usually the JWT gate followed by
	// RequireAuth.
	AuthGuard []fiber.Handler
	// ResendIPLimiter and ResetIPLimiter throttle the anonymous email
	// endpoints per client address.
	ResendIPLimiter ratelimit.Admitter
	ResetIPLimiter  ratelimit.Admitter

	activity ActivitySink
	clock    Clock
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if logger != nil {
			ac.Logger = logger
		}
		return ac
	}
}

func WithControllerServices(auther LoginService, registrar Registrar, verifier EmailVerifier, resetter PasswordResetter) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Auther = auther
		ac.Registrar = registrar
		ac.Verifier = verifier
		ac.Resetter = resetter
		return ac
	}
}

func WithControllerWebBaseURL(base string) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.WebBaseURL = strings.TrimRight(base, "/")
		return ac
	}
}

func WithControllerAuthGuard(handlers ...fiber.Handler) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.AuthGuard = handlers
		return ac
	}
}

func WithControllerIPLimiters(resend, reset ratelimit.Admitter) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.ResendIPLimiter = resend
		ac.ResetIPLimiter = reset
		return ac
	}
}

func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.activity = normalizeActivitySink(sink)
		return ac
	}
}

func WithControllerClock(clock Clock) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if clock != nil {
			ac.clock = clock
		}
		return ac
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		WebBaseURL: "http://localhost:3000",
		activity:   noopActivitySink{},
		clock:      systemClock,
		Routes: &AuthControllerRoutes{
			Login:         "/api/auth/login",
			Register:      "/api/auth/register",
			ConfirmEmail:  "/api/auth/confirm-email",
			Resend:        "/api/auth/verify/resend",
			Forgot:        "/api/auth/password/forgot",
			Validate:      "/api/auth/password/validate",
			ResetLink:     "/api/auth/password/reset-link",
			PasswordReset: "/api/auth/password/reset",
			Me:            "/api/auth/me",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing LoginService in auth controller...")
	}

	if c.Verifier == nil || c.Resetter == nil {
		panic("Missing email verification or password reset service in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the auth API on app
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	routes := controller.Routes

	resendLimit := controller.ipLimit(controller.ResendIPLimiter, "verify:ip:", "verify_resend_ip")
	resetLimit := controller.ipLimit(controller.ResetIPLimiter, "pw-reset:ip:", "password_reset_ip")

	app.Post(routes.Login, controller.LoginPost).Name("auth.login")
	if controller.Registrar != nil {
		app.Post(routes.Register, controller.RegisterPost).Name("auth.register")
	}
	app.Get(routes.ConfirmEmail, controller.ConfirmEmail).Name("auth.confirm-email")
	app.Post(routes.Resend, chain(resendLimit, controller.ResendPost)...).Name("auth.verify.resend")

	app.Post(routes.Forgot, chain(resetLimit, controller.ForgotPost)...).Name("auth.password.forgot")
	app.Post(routes.ResetLink, chain(resetLimit, controller.ForgotPost)...).Name("auth.password.reset-link.post")
	app.Get(routes.ResetLink, controller.ResetLinkGet).Name("auth.password.reset-link")
	app.Get(routes.Validate, controller.ValidateGet).Name("auth.password.validate")
	app.Post(routes.PasswordReset, controller.PasswordResetPost).Name("auth.password.reset")

	app.Get(routes.Me, chain(controller.AuthGuard, controller.MeGet)...).Name("auth.me")

	return controller
}

func chain(middleware []fiber.Handler, handler fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(middleware)+1)
	out = append(out, middleware...)
	return append(out, handler)
}

func (a *AuthController) ipLimit(limiter ratelimit.Admitter, prefix, scope string) []fiber.Handler {
	if limiter == nil {
		return nil
	}
	return []fiber.Handler{ratelimitware.New(ratelimitware.Config{
		Limiter:   limiter,
		KeyPrefix: prefix,
		OnDenied: func(c *fiber.Ctx, key string, retryAfter int) {
			emitActivity(c.UserContext(), a.activity, a.Logger, a.clock, ActivityEvent{
				EventType: ActivityEventRateLimited,
				Metadata: map[string]any{
					"scope":       scope,
					"retry_after": retryAfter,
				},
			})
		},
	})}
}

// LoginRequest payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginResponse carries the bearer token
type LoginResponse struct {
	Token string `json:"token"`
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.badJSON(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	a.debugPayload("login", fiber.Map{"username": payload.Username})

	token, err := a.Auther.Authenticate(c.UserContext(), strings.TrimSpace(payload.Username), payload.Password)
	if err != nil {
		return a.respondError(c, err)
	}

	return c.JSON(LoginResponse{Token: token})
}

// RegistrationPayload is the sign up body
type RegistrationPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegistrationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(PasswordMinLength, PasswordMaxLength)),
	)
}

// UserResponse is the public view of an account
type UserResponse struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func userResponse(u *User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func (a *AuthController) RegisterPost(c *fiber.Ctx) error {
	payload := new(RegistrationPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.badJSON(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	a.debugPayload("register", fiber.Map{"username": payload.Username, "email": MaskEmail(payload.Email)})

	user, err := a.Registrar.Execute(c.UserContext(), RegisterUserMessage{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		if user != nil {
			a.Logger.Warn("User registered without verification email", "user_id", user.ID.String())
		}
		return a.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(userResponse(user))
}

// ConfirmEmail consumes the link token and sends the browser to the web
// app with the outcome. It never answers with an error page.
func (a *AuthController) ConfirmEmail(c *fiber.Ctx) error {
	status := TokenInvalid

	if token := c.Query("token"); token != "" {
		err := a.Verifier.Verify(c.UserContext(), token)
		status = TokenStatusOf(err)
		if status == TokenInvalid && err != nil && !HasTextCode(err, TextCodeInvalidToken) && !HasTextCode(err, TextCodeTokenNotYetValid) {
			a.Logger.Error("Email confirmation failed", "error", err)
		}
	}

	outcome := status.String()
	if status == TokenValid {
		outcome = "success"
	}

	return c.Redirect(a.webURL("/verified", "status", outcome), fiber.StatusSeeOther)
}

// EmailPayload is the body of the resend and forgot endpoints
type EmailPayload struct {
	Email string `json:"email"`
}

func (r EmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
	)
}

func (a *AuthController) parseEmail(c *fiber.Ctx) (*EmailPayload, error) {
	payload := new(EmailPayload)
	if err := c.BodyParser(payload); err != nil {
		return nil, a.badJSON(c, err)
	}
	payload.Email = strings.TrimSpace(payload.Email)
	if err := payload.Validate(); err != nil {
		return nil, a.invalidPayload(c, err)
	}
	return payload, nil
}

// ResendPost always answers 204 for a well formed address
func (a *AuthController) ResendPost(c *fiber.Ctx) error {
	payload, err := a.parseEmail(c)
	if payload == nil {
		return err
	}

	if err := a.Verifier.Resend(c.UserContext(), payload.Email); err != nil {
		a.Logger.Error("Verification resend failed", "error", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ForgotPost answers 204 whether or not the account exists, 429 when the
// address is throttled.
func (a *AuthController) ForgotPost(c *fiber.Ctx) error {
	payload, err := a.parseEmail(c)
	if payload == nil {
		return err
	}

	if err := a.Resetter.IssueToken(c.UserContext(), payload.Email); err != nil {
		if IsRateLimited(err) {
			return a.respondError(c, err)
		}
		a.Logger.Error("Password reset request failed", "error", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ResetLinkGet is the target of the emailed link, it hands the token to
// the web app reset form.
func (a *AuthController) ResetLinkGet(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return c.Redirect(a.webURL("/reset-password", "", ""), fiber.StatusFound)
	}
	return c.Redirect(a.webURL("/reset-password", "token", token), fiber.StatusFound)
}

// ValidateGet answers 200 for usable tokens and 410 otherwise, the body
// is the inspection either way.
func (a *AuthController) ValidateGet(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return a.writeError(c, http.StatusBadRequest, TextCodeValidation, "Validation failed.", map[string]string{
			"token": "Parameter is required",
		})
	}

	inspection, err := a.Resetter.Inspect(c.UserContext(), token)
	if err != nil {
		return a.respondError(c, err)
	}

	if !inspection.Valid {
		return c.Status(fiber.StatusGone).JSON(inspection)
	}
	return c.JSON(inspection)
}

// PasswordResetPayload is the reset form body
type PasswordResetPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (r PasswordResetPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(PasswordMinLength, PasswordMaxLength)),
	)
}

func (a *AuthController) PasswordResetPost(c *fiber.Ctx) error {
	payload := new(PasswordResetPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.badJSON(c, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidPayload(c, err)
	}

	if err := a.Resetter.ResetPassword(c.UserContext(), payload.Token, payload.NewPassword); err != nil {
		return a.respondError(c, err, "newPassword")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// IdentityResponse describes the caller
type IdentityResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (a *AuthController) MeGet(c *fiber.Ctx) error {
	identity, ok := FromContext(c.UserContext())
	if !ok || identity == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	return c.JSON(IdentityResponse{
		ID:       identity.ID(),
		Username: identity.Username(),
		Email:    identity.Email(),
		Role:     identity.Role(),
	})
}

func (a *AuthController) webURL(path, key, value string) string {
	target := strings.TrimRight(a.WebBaseURL, "/") + path
	if key == "" {
		return target
	}
	return target + "?" + url.Values{key: []string{value}}.Encode()
}
