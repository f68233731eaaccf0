package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/audit"
	"github.com/supportdesk/dispatcher/internal/util"
)

type contextKey string

const externalUserContextKey contextKey = "externalUserID"

// GetExternalUserID returns the authenticated web-chat caller's external
// user ID, set by SurfaceAuthMiddleware.
func GetExternalUserID(ctx context.Context) string {
	id, _ := ctx.Value(externalUserContextKey).(string)
	return id
}

// SurfaceAuthMiddleware authenticates the web-chat surface: a bearer
// token of the form "<externalUserID>.<hmac>" where the hmac is
// HMAC-SHA256(externalUserID, secret), hex-encoded. There is no account
// store to look a token up against, so the signature itself is the
// credential.
type SurfaceAuthMiddleware struct {
	secret string
}

func NewSurfaceAuthMiddleware(secret string) *SurfaceAuthMiddleware {
	return &SurfaceAuthMiddleware{secret: secret}
}

func (m *SurfaceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		externalUserID, ok := m.verify(token)
		if !ok {
			log.Warn().Msg("surface auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventSurfaceAuthFailure})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), externalUserContextKey, externalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *SurfaceAuthMiddleware) verify(token string) (string, bool) {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return "", false
	}
	externalUserID, sig := token[:idx], token[idx+1:]
	if externalUserID == "" || sig == "" {
		return "", false
	}

	expected := util.HmacSHA256(m.secret, externalUserID)
	if !util.ConstantTimeEqual(sig, expected) {
		return "", false
	}
	return externalUserID, true
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
