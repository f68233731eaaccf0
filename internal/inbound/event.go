// Package inbound implements the User-Surface Inbound Adapter (C10): a
// thin translator from surface-specific payloads into the canonical
// event the Orchestrator consumes. It carries no business logic.
package inbound

import (
	"time"

	"github.com/supportdesk/dispatcher/internal/model"
)

// Event is the canonical shape every surface normalizes into.
type Event struct {
	UserKey    string
	ChannelKey string
	Text       string
	At         time.Time
	Surface    model.Surface
}

// FromWebSurface builds the canonical event for an authenticated
// web-chat message. Authenticity was already verified by
// middleware.SurfaceAuthMiddleware before this is called.
func FromWebSurface(externalUserID, text string, at time.Time) Event {
	return Event{
		UserKey:    externalUserID,
		ChannelKey: externalUserID,
		Text:       text,
		At:         at,
		Surface:    model.SurfaceWeb,
	}
}

// FromWebhookSurface builds the canonical event for a signed webhook
// delivery. Signature verification happens in
// middleware.WebhookSignatureMiddleware before this is called.
func FromWebhookSurface(externalUserID, channelKey, text string, at time.Time) Event {
	return Event{
		UserKey:    externalUserID,
		ChannelKey: channelKey,
		Text:       text,
		At:         at,
		Surface:    model.SurfaceWebhook,
	}
}
