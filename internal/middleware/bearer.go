// Package middleware provides HTTP middlewares for token authentication and logging.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const tokenKey ctxKey = "id_token"

// BearerToken is a middleware that lifts an ID token out of the
// Authorization header.
//
// A header of the form "Bearer <token>" stores the token in the request
// context, where handlers read it with GetTokenFromContext. Requests
// without the header pass through untouched; a header with another
// scheme or an empty token is rejected with 401.
func BearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTokenFromContext extracts the bearer token stored by BearerToken.
// Returns an empty string if not found.
func GetTokenFromContext(ctx context.Context) string {
	val := ctx.Value(tokenKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// TokenAuthorizer checks that an ID token belongs to the signed-in principal.
type TokenAuthorizer interface {
	Authorize(ctx context.Context, idToken string) error
}

// RequireToken returns a middleware that rejects requests whose bearer
// token is missing or does not belong to the signed-in principal.
// It must run after BearerToken.
func RequireToken(a TokenAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetTokenFromContext(r.Context())
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}
			if err := a.Authorize(r.Context(), token); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				http.Error(w, "invalid or foreign id token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
