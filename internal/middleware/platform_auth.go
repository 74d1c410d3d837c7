package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/schemabase/schemabase/internal/platform"
)

// principalMirror is satisfied by platform.Directory.
type principalMirror interface {
	EnsurePrincipal(ctx context.Context, principalID, email string) error
}

// PlatformAuth validates platform JWT tokens and resolves the caller to a
// principal. It sets "principal_id" and "email" in the request context and
// mirrors the principal into the directory so admin and grant lookups can
// reference it.
type PlatformAuth struct {
	authService *platform.AuthService
	directory   principalMirror
}

func NewPlatformAuth(authService *platform.AuthService, directory principalMirror) *PlatformAuth {
	return &PlatformAuth{authService: authService, directory: directory}
}

type contextKey string

const (
	ContextPrincipalID contextKey = "principal_id"
	ContextEmail       contextKey = "email"
)

func (m *PlatformAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}

		if claims.Type != "platform" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token type"})
			return
		}

		ctx := r.Context()
		ctx = setContextValue(ctx, ContextPrincipalID, claims.Subject)
		ctx = setContextValue(ctx, ContextEmail, claims.Email)
		ctx = platform.WithRequestMeta(ctx, extractIP(r), r.Header.Get("User-Agent"))

		// Mirror the identity-provider principal. Failures here are logged,
		// not fatal — the principal may already exist.
		if err := m.directory.EnsurePrincipal(ctx, claims.Subject, claims.Email); err != nil {
			slog.Warn("Failed to mirror principal", "principal", claims.Subject, "error", err)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipalID extracts the authenticated principal ID from the request context.
func GetPrincipalID(r *http.Request) string {
	v, _ := r.Context().Value(ContextPrincipalID).(string)
	return v
}

// GetEmail extracts the authenticated principal's email from the request context.
func GetEmail(r *http.Request) string {
	v, _ := r.Context().Value(ContextEmail).(string)
	return v
}

func extractIP(r *http.Request) string {
	// Only trust proxy headers if TRUST_PROXY env var is set
	if os.Getenv("TRUST_PROXY") == "true" {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx > 0 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx > 0 {
		ip = ip[:idx]
	}
	return ip
}
