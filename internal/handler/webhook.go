package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/inbound"
	"github.com/supportdesk/dispatcher/internal/orchestrator"
)

// webhookPayload is the canonical shape any signed user-surface webhook
// delivers. A deployment fronting a specific vendor (SMS, a chat widget
// embed, etc.) translates that vendor's shape into this one before it
// reaches the signature middleware.
type webhookPayload struct {
	ExternalUserID string `json:"externalUserId"`
	ChannelKey     string `json:"channelKey"`
	Text           string `json:"text"`
}

// WebhookHandler accepts signed user-surface webhook deliveries (see
// middleware.WebhookSignatureMiddleware) and feeds them into the
// Orchestrator as surface="webhook" events.
type WebhookHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewWebhookHandler(o *orchestrator.Orchestrator) *WebhookHandler {
	return &WebhookHandler{orchestrator: o}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	if payload.ExternalUserID == "" || payload.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "externalUserId and text are required"})
		return
	}
	if payload.ChannelKey == "" {
		payload.ChannelKey = payload.ExternalUserID
	}

	event := inbound.FromWebhookSurface(payload.ExternalUserID, payload.ChannelKey, payload.Text, time.Now())

	if err := h.orchestrator.HandleMessage(r.Context(), event); err != nil {
		log.Error().Err(err).Str("externalUserId", payload.ExternalUserID).Msg("webhook handler: failed to process message")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
