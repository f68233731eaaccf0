package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/inbound"
	"github.com/supportdesk/dispatcher/internal/middleware"
	"github.com/supportdesk/dispatcher/internal/model"
	"github.com/supportdesk/dispatcher/internal/orchestrator"
	"github.com/supportdesk/dispatcher/internal/sse"
	"github.com/supportdesk/dispatcher/internal/store"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type chatInbound struct {
	Text string `json:"text"`
}

// ChatHandler upgrades GET /ws/chat to a websocket connection for the
// interactive web-chat surface (spec.md §4.10, surface="web"): inbound
// frames become Orchestrator events, and every event the session's user
// key receives over the SSE broker (AI replies, agent replies, state
// changes) is forwarded back down the same connection.
type ChatHandler struct {
	orchestrator *orchestrator.Orchestrator
	broker       *sse.Broker
	sessionStore store.SessionStore
}

func NewChatHandler(o *orchestrator.Orchestrator, broker *sse.Broker, sessionStore store.SessionStore) *ChatHandler {
	return &ChatHandler{orchestrator: o, broker: broker, sessionStore: sessionStore}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	externalUserID := middleware.GetExternalUserID(r.Context())
	if externalUserID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("chat handler: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	session, err := h.sessionStore.FindOrCreateActive(ctx, model.FindOrCreateParams{
		Surface:        model.SurfaceWeb,
		ExternalUserID: externalUserID,
		ChannelKey:     externalUserID,
	})
	if err != nil {
		log.Error().Err(err).Msg("chat handler: failed to resolve session")
		return
	}

	key := userKey(session.Surface, session.ExternalUserID)
	client := h.broker.Subscribe(key)
	defer h.broker.Unsubscribe(client)

	outboundDone := make(chan struct{})
	go h.pumpOutbound(conn, client, outboundDone)

	h.pumpInbound(ctx, conn, externalUserID)
	<-outboundDone
}

// pumpInbound reads frames until the client disconnects or the request
// context is cancelled, translating each into an Orchestrator event. It
// runs on the handler goroutine so its return signals the connection is
// done, letting ServeHTTP wait for the outbound pump to drain.
func (h *ChatHandler) pumpInbound(ctx context.Context, conn *websocket.Conn, externalUserID string) {
	for {
		var msg chatInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("externalUserId", externalUserID).Msg("chat handler: websocket read error")
			}
			return
		}
		if msg.Text == "" {
			continue
		}

		event := inbound.FromWebSurface(externalUserID, msg.Text, time.Now())
		if err := h.orchestrator.HandleMessage(ctx, event); err != nil {
			log.Error().Err(err).Str("externalUserId", externalUserID).Msg("chat handler: failed to process message")
		}
	}
}

// pumpOutbound forwards every event published to the session's user key
// down the websocket connection until the broker closes the
// subscription (client.Done) or a write fails.
func (h *ChatHandler) pumpOutbound(conn *websocket.Conn, client *sse.Client, done chan<- struct{}) {
	defer close(done)
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.Done:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(map[string]any{
				"type": event.Type,
				"data": event.Data,
			}); err != nil {
				log.Debug().Err(err).Msg("chat handler: websocket write failed, closing")
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
