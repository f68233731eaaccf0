// Package audit emits structured security/lifecycle events to the
// regular zerolog stream, tagged so they can be filtered out of the
// general request log.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionEscalated    EventType = "session_escalated"
	EventSessionClaimed      EventType = "session_claimed"
	EventClaimStale          EventType = "claim_stale"
	EventSessionClosed       EventType = "session_closed"
	EventWebhookAuthFailure  EventType = "webhook_auth_failure"
	EventSurfaceAuthFailure  EventType = "surface_auth_failure"
	EventRateLimitExceeded   EventType = "rate_limit_exceeded"
)

type Event struct {
	Type      EventType
	SessionID string
	AgentID   string
	Surface   string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.AgentID != "" {
		logger = logger.With().Str("agentId", event.AgentID).Logger()
	}
	if event.Surface != "" {
		logger = logger.With().Str("surface", event.Surface).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

// LogFromRequest fills in IP/UserAgent from an inbound request before
// logging — used for auth-boundary failures where no session exists yet.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
