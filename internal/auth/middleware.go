package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey is package-private so no other package can read or shadow the
// values stored under it.
type contextKey string

const userIDKey contextKey = "userID"

// SessionCookie is the HttpOnly cookie that carries the session JWT.
const SessionCookie = "token"

// InternalSecretHeader carries the shared secret on service-to-service routes.
const InternalSecretHeader = "X-Internal-Secret"

// Provisioner is called for external identities before the request proceeds,
// so the user row exists for foreign keys. It must be idempotent.
type Provisioner func(ctx context.Context, id *Identity) error

// RequireAuth enforces authentication on protected routes.
//
// The token is read from "Authorization: Bearer <jwt>" first, then from the
// session cookie. A missing or invalid token ends the request with 401.
func RequireAuth(v Verifier, provision Provisioner, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := identify(r, v)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			if id.External && provision != nil {
				if err := provision(r.Context(), id); err != nil {
					logger.Error("provisioning external user",
						slog.String("user_id", id.UserID),
						slog.String("error", err.Error()),
					)
					writeJSONError(w, http.StatusInternalServerError, `{"error":"internal_error","message":"an unexpected error occurred"}`)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id.UserID)))
		})
	}
}

// RequireInternalSecret guards service-to-service routes. The header is
// compared in constant time. An empty configured secret disables the route:
// every request gets 403.
func RequireInternalSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeJSONError(w, http.StatusForbidden, `{"error":"forbidden","message":"invalid internal secret"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID stores the authenticated user ID in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

var errNoToken = errors.New("auth: no token")

func identify(r *http.Request, v Verifier) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return nil, errNoToken
	}
	return v.Verify(r.Context(), token)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, `{"error":"unauthorized","message":"valid authentication required"}`)
}

// writeJSONError writes a fixed error body in the same shape as
// handler.ErrorResponse. This package cannot import handler.
func writeJSONError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
