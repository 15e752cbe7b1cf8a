package middleware

import "net/http"

// RequireStrict returns middleware that runs the bootstrap check and refuses
// with 503 when the lockout decision was made without the remote tier.
func RequireStrict(engine Authenticator) func(http.Handler) http.Handler {
	return Guard(engine, ModeStrict)
}
