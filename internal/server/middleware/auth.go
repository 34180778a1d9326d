// Package middleware provides HTTP middleware for bearer-token authentication.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

const userIDKey ContextKey = "userID"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (UserIDGetter, error)
}

// UserIDGetter extracts the user ID from validated claims.
type UserIDGetter interface {
	GetUserID() uuid.UUID
}

// AuthError explains why a request was rejected with 401.
type AuthError struct {
	Reason string
	Cause  error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unauthorized: %s: %v", e.Reason, e.Cause)
	}
	return "unauthorized: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", &AuthError{Reason: "missing Authorization header"}
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", &AuthError{Reason: "Authorization header must be 'Bearer <token>'"}
	}
	return parts[1], nil
}

// AuthMiddleware validates the bearer token and stores the user ID in the
// request context. Rejections never reach next.
func AuthMiddleware(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r.Header.Get("Authorization"))
			if err == nil {
				var claims UserIDGetter
				if claims, err = validator.ValidateToken(token); err == nil {
					if userID := claims.GetUserID(); userID != uuid.Nil {
						ctx := context.WithValue(r.Context(), userIDKey, userID)
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
					err = &AuthError{Reason: "token has no subject"}
				} else {
					err = &AuthError{Reason: "invalid token", Cause: err}
				}
			}

			logger.Debug("request rejected", "path", r.URL.Path, "error", err)
			writeUnauthorized(w, err)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	msg := "authentication required"
	var authErr *AuthError
	if errors.As(err, &authErr) {
		msg = authErr.Reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="audition"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     "unauthorized",
		"message":   msg,
		"retryable": false,
	})
}

// GetUserID extracts the authenticated user ID from the request context.
func GetUserID(r *http.Request) (uuid.UUID, error) {
	userID, ok := r.Context().Value(userIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user ID not found in request context")
	}
	return userID, nil
}

// WithUserID returns ctx carrying userID, for handlers invoked without the middleware.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
