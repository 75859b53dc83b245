package auth

import (
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	PasswordMinLength = 8
	PasswordMaxLength = 128
)

var notBlank = validation.By(func(value any) error {
	s, _ := value.(string)
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return nil
		}
	}
	return validation.NewError("validation_not_blank", "cannot be blank")
})

// ValidatePassword checks the password policy, failures are ErrWeakPassword
func ValidatePassword(password string) error {
	err := validation.Validate(password,
		validation.Required,
		notBlank,
		validation.Length(PasswordMinLength, PasswordMaxLength),
	)
	if err == nil {
		return nil
	}

	clone := ErrWeakPassword.Clone()
	if clone == nil {
		return ErrWeakPassword
	}
	clone.Source = err
	clone.WithMetadata(map[string]any{
		"reason": err.Error(),
	})
	return clone
}
