package auth

import (
	"net/http"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Codes for failures that never reach a service.
const (
	TextCodeValidation = "VALIDATION_ERROR"
	TextCodeBadJSON    = "BAD_JSON"
	TextCodeInternal   = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON body of every failed API call
type ErrorResponse struct {
	Timestamp   time.Time         `json:"timestamp"`
	Status      int               `json:"status"`
	Error       string            `json:"error"`
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Path        string            `json:"path"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

func (a *AuthController) writeError(c *fiber.Ctx, status int, code, message string, fields map[string]string) error {
	return c.Status(status).JSON(ErrorResponse{
		Timestamp:   a.clock(),
		Status:      status,
		Error:       http.StatusText(status),
		Code:        code,
		Message:     message,
		Path:        c.Path(),
		FieldErrors: fields,
	})
}

// respondError maps service errors to the JSON envelope. Unknown users
// answer exactly like a wrong password. Policy failures are reported
// against passwordField, "password" by default.
func (a *AuthController) respondError(c *fiber.Ctx, err error, passwordField ...string) error {
	if errors.Is(err, ErrUserNotFound) {
		err = ErrBadCredentials
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		a.Logger.Error("Unexpected API error", "path", c.Path(), "error", err)
		return a.writeError(c, http.StatusInternalServerError, TextCodeInternal, "Something went wrong.", nil)
	}

	status := HTTPStatusOf(richErr)
	if status >= http.StatusInternalServerError {
		a.Logger.Error(
			"API error",
			"path", c.Path(),
			"error", richErr.Message,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		a.Logger.Debug("API client error", "path", c.Path(), "text_code", richErr.TextCode)
	}

	if IsRateLimited(richErr) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(RetryAfter(richErr)))
	}

	var fields map[string]string
	if reason, ok := richErr.Metadata["reason"].(string); ok && IsWeakPassword(richErr) {
		field := "password"
		if len(passwordField) > 0 && passwordField[0] != "" {
			field = passwordField[0]
		}
		fields = map[string]string{field: reason}
	}

	return a.writeError(c, status, richErr.TextCode, richErr.Message, fields)
}

func (a *AuthController) badJSON(c *fiber.Ctx, err error) error {
	a.Logger.Debug("API payload parse failed", "path", c.Path(), "error", err)
	return a.writeError(c, http.StatusBadRequest, TextCodeBadJSON, "Malformed JSON request.", nil)
}

func (a *AuthController) invalidPayload(c *fiber.Ctx, err error) error {
	return a.writeError(c, http.StatusBadRequest, TextCodeValidation, "Validation failed.", FormatValidationErrorToMap(err))
}

// FormatValidationErrorToMap flattens ozzo validation errors keyed by the
// json field name.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	fieldErrs, ok := err.(validation.Errors)
	if !ok {
		out["_"] = err.Error()
		return out
	}

	for field, fieldErr := range fieldErrs {
		if fieldErr == nil {
			continue
		}
		out[field] = fieldErr.Error()
	}
	return out
}

func (a *AuthController) debugPayload(label string, payload any) {
	if !a.Debug {
		return
	}
	a.Logger.Debug("API payload", "route", label, "payload", print.MaybePrettyJSON(payload))
}
