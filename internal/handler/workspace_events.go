package handler

import (
	"encoding/json"
	"net/http"

	"github.com/supportdesk/dispatcher/internal/escalation"
	"github.com/supportdesk/dispatcher/internal/relay"
	"github.com/supportdesk/dispatcher/internal/workspace"
)

// workspaceEventPayload mirrors workspace.ThreadReply for webhook-transport
// agent workspaces that can't deliver gateway events in-process.
type workspaceEventPayload struct {
	WorkspaceThreadKey string `json:"workspaceThreadKey"`
	AgentID            string `json:"agentId"`
	AgentDisplayName   string `json:"agentDisplayName"`
	Text               string `json:"text"`
	EventID            string `json:"eventId"`
}

// WorkspaceEventsHandler implements POST /workspace/events, the webhook
// transport parity path for agent thread replies alongside the live
// Discord gateway adapter (§4.7).
type WorkspaceEventsHandler struct {
	hub *relay.Hub
}

func NewWorkspaceEventsHandler(hub *relay.Hub) *WorkspaceEventsHandler {
	return &WorkspaceEventsHandler{hub: hub}
}

func (h *WorkspaceEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload workspaceEventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	if payload.WorkspaceThreadKey == "" || payload.AgentID == "" || payload.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workspaceThreadKey, agentId, and text are required"})
		return
	}

	reply := workspace.ThreadReply{
		WorkspaceThreadKey: payload.WorkspaceThreadKey,
		AgentID:            payload.AgentID,
		AgentDisplayName:   payload.AgentDisplayName,
		Text:               payload.Text,
		EventID:            payload.EventID,
	}

	h.hub.HandleThreadReply(r.Context(), reply)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// workspaceActionPayload mirrors workspace.ButtonAction.
type workspaceActionPayload struct {
	WorkspaceThreadKey string `json:"workspaceThreadKey"`
	AgentID            string `json:"agentId"`
	AgentDisplayName   string `json:"agentDisplayName"`
	Action             string `json:"action"`
	EventID            string `json:"eventId"`
}

// WorkspaceActionsHandler implements POST /workspace/actions, the
// webhook transport parity path for ticket card button callbacks
// (accept/close) alongside the live Discord gateway adapter.
type WorkspaceActionsHandler struct {
	hub *relay.Hub
}

func NewWorkspaceActionsHandler(hub *relay.Hub) *WorkspaceActionsHandler {
	return &WorkspaceActionsHandler{hub: hub}
}

func (h *WorkspaceActionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload workspaceActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	action := escalation.Action(payload.Action)
	if payload.WorkspaceThreadKey == "" || payload.AgentID == "" ||
		(action != escalation.ActionAccept && action != escalation.ActionClose) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workspaceThreadKey, agentId, and a valid action are required"})
		return
	}

	buttonAction := workspace.ButtonAction{
		WorkspaceThreadKey: payload.WorkspaceThreadKey,
		AgentID:            payload.AgentID,
		AgentDisplayName:   payload.AgentDisplayName,
		Action:             action,
		EventID:            payload.EventID,
	}

	h.hub.HandleButtonAction(r.Context(), buttonAction)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
