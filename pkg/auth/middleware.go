// Package auth guards the API with a shared secret sent as
// "Authorization: aurora-token <secret>" or "Authorization: Bearer <secret>".
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// TokenScheme is the Authorization scheme clients are given.
const TokenScheme = "aurora-token"

// acceptedSchemes are compared case-insensitively.
var acceptedSchemes = []string{TokenScheme, "bearer"}

// Middleware provides HTTP authentication middleware.
type Middleware struct {
	secret   []byte
	disabled bool
	logger   *zap.Logger
}

// NewMiddleware creates a middleware that accepts secret. When disabled is set
// every request passes.
func NewMiddleware(secret string, disabled bool, logger *zap.Logger) *Middleware {
	return &Middleware{
		secret:   []byte(secret),
		disabled: disabled,
		logger:   logger,
	}
}

// RequireAuth rejects requests without the shared secret. The client address
// is put in the context for audit logging.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.disabled && !m.valid(r.Header.Get("Authorization")) {
			m.logger.Warn("Rejected unauthenticated request",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", clientIP(r)))
			m.unauthorized(w, "Authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ClientIPKey, clientIP(r))
		next(w, r.WithContext(ctx))
	}
}

func (m *Middleware) valid(header string) bool {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || len(m.secret) == 0 || !slices.ContainsFunc(acceptedSchemes, func(s string) bool {
		return strings.EqualFold(s, scheme)
	}) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), m.secret) == 1
}

// clientIP prefers the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
