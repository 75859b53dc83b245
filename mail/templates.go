package mail

import (
	"fmt"
	"net/url"
	"time"

	"github.com/flosch/pongo2/v6"
)

const verificationHTML = `<!doctype html>
<html>
  <body style="font-family: sans-serif; line-height: 1.5">
    <p>Hi {{ username }},</p>
    <p>Thanks for signing up. Please confirm your email address by clicking the button below.</p>
    <p><a href="{{ link }}" style="display:inline-block;padding:10px 16px;background:#1f6feb;color:#fff;text-decoration:none;border-radius:4px">Verify email</a></p>
    <p>This link expires in {{ ttl }}.</p>
    <p>If you did not create an account you can ignore this email.</p>
  </body>
</html>
`

const passwordResetText = `Hi {{ username|safe }},

Someone (hopefully you) requested a password reset.
Click the link below to set a new password (valid for {{ ttl }}):

{{ link|safe }}

If you didn't request this, you can ignore this email.
`

var (
	verificationTpl  = pongo2.Must(pongo2.FromString(verificationHTML))
	passwordResetTpl = pongo2.Must(pongo2.FromString(passwordResetText))
)

const (
	VerificationSubject  = "Verify your email"
	PasswordResetSubject = "Reset your password"
)

// LinkData feeds the message templates
type LinkData struct {
	Username string
	Link     string
	TTL      time.Duration
}

// TokenLink appends the url escaped token to base
func TokenLink(base, token string) string {
	return base + "?token=" + url.QueryEscape(token)
}

// RenderVerification returns the HTML body of the verification email
func RenderVerification(data LinkData) (string, error) {
	return verificationTpl.Execute(data.context())
}

// RenderPasswordReset returns the plain text body of the reset email
func RenderPasswordReset(data LinkData) (string, error) {
	return passwordResetTpl.Execute(data.context())
}

func (d LinkData) context() pongo2.Context {
	username := d.Username
	if username == "" {
		username = "there"
	}
	return pongo2.Context{
		"username": username,
		"link":     d.Link,
		"ttl":      HumanDuration(d.TTL),
	}
}

// HumanDuration renders 1 hour, 2 hours, 45 minutes
func HumanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
