package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/credsync"
)

// Mode selects how much a guard checks.
type Mode int

const (
	// ModeSession verifies the token, its session record and lockout state.
	ModeSession Mode = iota
	// ModeStrict also refuses requests whose lockout decision was made
	// without the remote tier.
	ModeStrict
)

// Authenticator is the subset of *credsync.Engine the guards call.
type Authenticator interface {
	Bootstrap(ctx context.Context, token string) (credsync.Principal, credsync.Decision, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal a guard authenticated.
func PrincipalFromContext(ctx context.Context) (credsync.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(credsync.Principal)
	return p, ok
}

// Guard returns middleware that rejects requests without a usable session
// token. Every mode runs Engine.Bootstrap, so locked principals get 423.
// ModeStrict answers 503 to a degraded decision. Every other failure is 401.
func Guard(engine Authenticator, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if ip := clientIP(r); ip != "" {
				ctx = credsync.WithClientIP(ctx, ip)
			}

			p, d, err := engine.Bootstrap(ctx, token)
			if err != nil {
				if errors.Is(err, credsync.ErrAccountLocked) {
					http.Error(w, "locked", http.StatusLocked)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if mode == ModeStrict && d.Degraded {
				http.Error(w, "lockout state unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx = context.WithValue(ctx, principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
