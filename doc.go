// Package auth provides the token lifecycle and authentication layer of the
// blog backend: signed access and email verification tokens, persisted
// single use verification and password reset tokens, and the HTTP routes
// under /api/auth.
//
// Tokens:
//   - TokenServiceImpl signs and parses HS256 JWTs. Access tokens carry the
//     username as subject plus email and roles claims. Email verification
//     tokens add a jti that must match a stored, unused row before the
//     address counts as confirmed.
//   - Password reset tokens are opaque random UUIDs stored in the
//     password_reset_tokens table, never JWTs.
//   - MultiTokenValidator accepts access tokens signed with retired keys
//     while a signing key is rotated.
//
// Consumption:
//   - Every single use token is consumed with one conditional UPDATE on
//     used_at, so two concurrent requests cannot both succeed.
//   - Issuing a new token revokes outstanding ones for the same address.
//
// Activity sinks:
//   - ActivitySink receives login, registration, verification, reset and
//     rate limit events. Sinks run best-effort, errors are logged and never
//     change the outcome of a request.
package auth
