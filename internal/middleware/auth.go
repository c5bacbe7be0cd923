package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bdbt/analytics/internal/auth"
)

// Error codes written by middleware. They match the API error envelope.
const (
	ErrCodeAuthFailed        = "auth_failed"
	ErrCodeTokenExpired      = "token_expired"
	ErrCodeRateLimitExceeded = "rate_limit_exceeded"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authenticate resolves the bearer token into a user id on the request
// context. Requests without an Authorization header pass through as
// anonymous; malformed, expired or forged tokens get 401.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Authorization header must use the Bearer scheme")
				return
			}

			claims, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					writeError(w, r, http.StatusUnauthorized, ErrCodeTokenExpired, "Access token has expired")
					return
				}
				writeError(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid access token")
				return
			}

			ctx := SetUserID(r.Context(), claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that Authenticate left anonymous.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			writeError(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ContextIdentity resolves the current user from the request context.
type ContextIdentity struct{}

// CurrentUserID returns the user id set by Authenticate.
func (ContextIdentity) CurrentUserID(ctx context.Context) (string, bool) {
	id := GetUserID(ctx)
	return id, id != ""
}

// writeError writes the API error envelope and records the code for Logging.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	SetErrorCode(r.Context(), code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
