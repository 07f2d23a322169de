// Package auth extracts the verified user identity supplied by the fronting
// authentication layer. Credentials are validated upstream; this side only
// trusts the forwarded identifier.
package auth

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const userHeader = "X-User-ID"

type ctxKey struct{}

// Middleware rejects requests without a usable identity and stashes the user
// id in the request context for handlers downstream.
func Middleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(userHeader)
			id, err := strconv.ParseInt(raw, 10, 64)
			if raw == "" || err != nil || id <= 0 {
				log.Debug("request without identity", zap.String("path", r.URL.Path))
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
		})
	}
}

func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}
