// Package workspace implements the Agent-Workspace Adapter (C7): the
// side of the bridge agents see, backed by Discord threads.
package workspace

import (
	"context"

	"github.com/supportdesk/dispatcher/internal/escalation"
)

// ButtonAction is an inbound click on a ticket's action row.
type ButtonAction struct {
	WorkspaceThreadKey string
	AgentID            string
	AgentDisplayName   string
	Action             escalation.Action
	EventID            string
}

// ThreadReply is an inbound message typed by an agent in a ticket thread.
type ThreadReply struct {
	WorkspaceThreadKey string
	AgentID            string
	AgentDisplayName   string
	Text               string
	EventID            string
}

// Adapter is the C7 contract. Both inbound paths (button callback,
// thread-reply) are delivered to the caller via the Inbound channel
// rather than a registered-callback API, matching the event-driven shape
// the rest of the dispatcher already uses for C10.
type Adapter interface {
	PostTicket(ctx context.Context, ticket escalation.Ticket) (workspaceThreadKey string, err error)
	EditTicket(ctx context.Context, workspaceThreadKey string, ticket escalation.Ticket) error
	PostThreadMessage(ctx context.Context, workspaceThreadKey, text, roleLabel string) error
	ButtonActions() <-chan ButtonAction
	ThreadReplies() <-chan ThreadReply
	Start(ctx context.Context) error
	Stop() error
}
