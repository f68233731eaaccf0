// Package relay implements the Relay Hub (C8): the bidirectional bridge
// between user surfaces and the agent workspace. It holds no state of
// its own — every routing decision re-reads authority from the Session
// Store.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/audit"
	"github.com/supportdesk/dispatcher/internal/escalation"
	"github.com/supportdesk/dispatcher/internal/model"
	"github.com/supportdesk/dispatcher/internal/sse"
	"github.com/supportdesk/dispatcher/internal/store"
	"github.com/supportdesk/dispatcher/internal/workspace"
)

type Hub struct {
	sessions store.SessionStore
	adapter  workspace.Adapter
	broker   *sse.Broker
	builder  *escalation.Builder
	dedup    store.IdempotencyStore
}

func NewHub(sessions store.SessionStore, adapter workspace.Adapter, broker *sse.Broker, builder *escalation.Builder, dedup store.IdempotencyStore) *Hub {
	return &Hub{sessions: sessions, adapter: adapter, broker: broker, builder: builder, dedup: dedup}
}

// threadReplyIdempotencyKey composes the (workspace_thread_key, event_id)
// dedup key for an agent thread reply. Its prefix differs from the
// Discord gateway adapter's own intake keys ("discord:message:<id>"), so
// the adapter's intake record does not mark the reply as already relayed.
func threadReplyIdempotencyKey(workspaceThreadKey, eventID string) string {
	return "workspace:thread-reply:" + workspaceThreadKey + ":" + eventID
}

func userKey(surface model.Surface, externalUserID string) string {
	return fmt.Sprintf("%s:%s", surface, externalUserID)
}

// ForwardUserMessage is the "User -> system" path for an escalated
// session (Escalated-Unclaimed or Escalated-Claimed): the AI stays
// silent and the message is relayed into the session's workspace thread.
func (h *Hub) ForwardUserMessage(ctx context.Context, session *model.Session, text string) error {
	if session.WorkspaceThreadKey == nil {
		return fmt.Errorf("session %s is ai_disabled with no workspace thread", session.ID)
	}
	return h.adapter.PostThreadMessage(ctx, *session.WorkspaceThreadKey, text, "User")
}

// PublishToUser fans a delivered event out over SSE so a connected
// web-chat client observes the same ordered stream the acting surface
// produced.
func (h *Hub) PublishToUser(ctx context.Context, session *model.Session, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("relay: failed to marshal event payload")
		return
	}
	key := userKey(session.Surface, session.ExternalUserID)
	if err := h.broker.Publish(ctx, key, sse.Event{Type: eventType, Data: data}); err != nil {
		log.Error().Err(err).Str("userKey", key).Msg("relay: failed to publish event")
	}
}

// Run consumes agent-initiated events (button actions, thread replies)
// until ctx is cancelled. This is the other half of the bridge:
// Orchestrator drives the user->system path; Run drives workspace->system.
func (h *Hub) Run(ctx context.Context) {
	buttons := h.adapter.ButtonActions()
	replies := h.adapter.ThreadReplies()

	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-buttons:
			if !ok {
				return
			}
			h.handleButtonAction(ctx, action)
		case reply, ok := <-replies:
			if !ok {
				return
			}
			h.handleThreadReply(ctx, reply)
		}
	}
}

// HandleButtonAction processes a workspace button callback. Run calls it
// for gateway-delivered actions; the HTTP webhook-parity transport
// (POST /workspace/actions) calls it directly for workspaces that only
// speak webhooks.
func (h *Hub) HandleButtonAction(ctx context.Context, action workspace.ButtonAction) {
	h.handleButtonAction(ctx, action)
}

// HandleThreadReply processes an agent's reply in a claimed ticket
// thread. Run calls it for gateway-delivered replies; the HTTP
// webhook-parity transport (POST /workspace/events) calls it directly.
func (h *Hub) HandleThreadReply(ctx context.Context, reply workspace.ThreadReply) {
	h.handleThreadReply(ctx, reply)
}

func (h *Hub) handleButtonAction(ctx context.Context, action workspace.ButtonAction) {
	session, err := h.sessions.GetByWorkspaceThread(ctx, action.WorkspaceThreadKey)
	if err != nil {
		log.Error().Err(err).Str("workspaceThreadKey", action.WorkspaceThreadKey).Msg("relay: button action for unknown thread")
		return
	}

	if session.State == model.StateClosed {
		log.Info().Str("sessionId", session.ID).Msg("relay: dropped button action on closed session (audit)")
		return
	}

	switch action.Action {
	case escalation.ActionAccept:
		h.handleAccept(ctx, session, action)
	case escalation.ActionClose:
		h.handleClose(ctx, session, action)
	}
}

func (h *Hub) handleAccept(ctx context.Context, session *model.Session, action workspace.ButtonAction) {
	if session.State != model.StateEscalatedUnclaimed {
		return
	}

	agentID := action.AgentID
	updated, err := h.sessions.Transition(ctx, session.ID, model.StateEscalatedUnclaimed, model.StateEscalatedClaimed, store.TransitionFields{
		AssignedAgent: &agentID,
	})
	if err == store.ErrStale {
		claimant := "another agent"
		if session.AssignedAgent != nil {
			claimant = *session.AssignedAgent
		}
		audit.Log(ctx, audit.Event{Type: audit.EventClaimStale, SessionID: session.ID, AgentID: agentID})
		_ = h.adapter.PostThreadMessage(ctx, action.WorkspaceThreadKey, fmt.Sprintf("Already claimed by %s.", claimant), "System")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("relay: claim transition failed")
		return
	}

	audit.Log(ctx, audit.Event{Type: audit.EventSessionClaimed, SessionID: updated.ID, AgentID: agentID})

	history, _ := h.sessions.History(ctx, updated.ID, 50)
	ticket := h.builder.Build(updated, history)
	ticket.Actions = []escalation.Action{escalation.ActionClose}
	if err := h.adapter.EditTicket(ctx, action.WorkspaceThreadKey, ticket); err != nil {
		log.Error().Err(err).Msg("relay: failed to edit ticket card after claim")
	}

	h.PublishToUser(ctx, updated, "message", map[string]string{
		"role": "system",
		"text": "A specialist has joined.",
	})
}

func (h *Hub) handleClose(ctx context.Context, session *model.Session, action workspace.ButtonAction) {
	if session.State != model.StateEscalatedClaimed {
		return
	}
	if session.AssignedAgent == nil || *session.AssignedAgent != action.AgentID {
		return
	}

	updated, err := h.sessions.Transition(ctx, session.ID, model.StateEscalatedClaimed, model.StateClosed, store.TransitionFields{})
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("relay: close transition failed")
		return
	}

	audit.Log(ctx, audit.Event{Type: audit.EventSessionClosed, SessionID: updated.ID, AgentID: action.AgentID})

	history, _ := h.sessions.History(ctx, updated.ID, 50)
	ticket := h.builder.Build(updated, history)
	ticket.Actions = nil
	if err := h.adapter.EditTicket(ctx, action.WorkspaceThreadKey, ticket); err != nil {
		log.Error().Err(err).Msg("relay: failed to edit ticket card after close")
	}

	h.PublishToUser(ctx, updated, "message", map[string]string{
		"role": "system",
		"text": "This conversation has been closed.",
	})
}

func (h *Hub) handleThreadReply(ctx context.Context, reply workspace.ThreadReply) {
	session, err := h.sessions.GetByWorkspaceThread(ctx, reply.WorkspaceThreadKey)
	if err != nil {
		log.Error().Err(err).Str("workspaceThreadKey", reply.WorkspaceThreadKey).Msg("relay: thread reply for unknown thread")
		return
	}

	// Thread replies, unlike button actions, aren't incidentally
	// idempotent via the state CAS: a replayed webhook delivery would
	// otherwise append a duplicate agent message and re-forward it to
	// the user. Dedup on (workspace_thread_key, event_id) when the
	// transport supplies an event ID.
	if reply.EventID != "" {
		isNew, err := h.dedup.MarkSeen(ctx, threadReplyIdempotencyKey(reply.WorkspaceThreadKey, reply.EventID), &session.ID)
		if err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("relay: failed to check thread reply idempotency")
			return
		}
		if !isNew {
			log.Info().Str("sessionId", session.ID).Str("eventId", reply.EventID).Msg("relay: dropped duplicate thread reply")
			return
		}
	}

	if session.State == model.StateClosed {
		log.Info().Str("sessionId", session.ID).Msg("relay: dropped thread reply on closed session (audit)")
		return
	}

	if session.State != model.StateEscalatedClaimed {
		return
	}

	if session.AssignedAgent == nil || *session.AssignedAgent != reply.AgentID {
		// Not the claiming agent: dropped, neither forwarded to the user
		// nor appended to history.
		return
	}

	updated, err := h.sessions.AppendMessage(ctx, model.AppendMessageParams{
		SessionID:        session.ID,
		Role:             model.RoleAgent,
		Content:          reply.Text,
		Surface:          session.Surface,
		AgentDisplayName: &reply.AgentDisplayName,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("relay: failed to append agent reply")
		return
	}

	h.PublishToUser(ctx, updated, "message", map[string]string{
		"role": "agent",
		"text": reply.Text,
	})
}
