package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/middleware"
	"github.com/supportdesk/dispatcher/internal/model"
	"github.com/supportdesk/dispatcher/internal/sse"
	"github.com/supportdesk/dispatcher/internal/store"
)

// EventsHandler streams session state over Server-Sent Events to the
// web-chat surface: new AI/agent messages, state transitions, and slot
// offers, as they are published onto the session's user key channel.
type EventsHandler struct {
	broker       *sse.Broker
	sessionStore store.SessionStore
}

func NewEventsHandler(broker *sse.Broker, sessionStore store.SessionStore) *EventsHandler {
	return &EventsHandler{
		broker:       broker,
		sessionStore: sessionStore,
	}
}

func userKey(surface model.Surface, externalUserID string) string {
	return fmt.Sprintf("%s:%s", surface, externalUserID)
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	externalUserID := middleware.GetExternalUserID(r.Context())
	if externalUserID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	ctx := r.Context()
	session, err := h.sessionStore.FindOrCreateActive(ctx, model.FindOrCreateParams{
		Surface:        model.SurfaceWeb,
		ExternalUserID: externalUserID,
		ChannelKey:     externalUserID,
	})
	if err != nil {
		log.Error().Err(err).Msg("events handler: failed to resolve session")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to open session"})
		return
	}

	key := userKey(session.Surface, session.ExternalUserID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(key)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("userKey", key).Str("sessionId", session.ID).Msg("sse connection established")

	h.sendEvent(w, flusher, "connected", map[string]any{
		"sessionId": session.ID,
		"state":     string(session.State),
	})

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("userKey", key).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("userKey", key).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("userKey", key).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
