package middleware

import "net/http"

// RequireSession returns middleware that runs the bootstrap check: token,
// session record and lockout state. A lockout decision made from cache tiers
// alone is accepted.
func RequireSession(engine Authenticator) func(http.Handler) http.Handler {
	return Guard(engine, ModeSession)
}
