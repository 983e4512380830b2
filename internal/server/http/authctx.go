package httpserver

import (
	"context"
	"net/http"

	"github.com/and161185/nomadrise/internal/session"
)

type ctxKey string

const sessionKey ctxKey = "nomadrise.session"

// WithSession stores the verified session in ctx.
func WithSession(ctx context.Context, c *session.Claims) context.Context {
	return context.WithValue(ctx, sessionKey, c)
}

// SessionFromCtx fetches the session stored by LoadSession.
func SessionFromCtx(ctx context.Context) (*session.Claims, bool) {
	c, ok := ctx.Value(sessionKey).(*session.Claims)
	return c, ok && c != nil
}

// LoadSession attaches a valid session to the request context. Invalid or absent sessions are ignored.
func LoadSession(m *session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, err := m.FromRequest(r); err == nil {
				r = r.WithContext(WithSession(r.Context(), c))
			}
			next.ServeHTTP(w, r)
		})
	}
}
