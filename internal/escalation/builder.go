// Package escalation implements the Escalation Builder (C6): a
// deterministic formatter from a Session plus its recent history into a
// ticket title, reason, bulleted summary, and initial action set.
package escalation

import (
	"fmt"
	"strings"

	"github.com/supportdesk/dispatcher/internal/model"
)

// Action is one button the Agent-Workspace Adapter renders on a ticket.
type Action string

const (
	ActionAccept Action = "accept"
	ActionClose  Action = "close"
)

// Ticket is the formatted ticket body the adapter posts or edits.
type Ticket struct {
	SessionID string
	Title     string
	Reason    string
	Summary   string
	Actions   []Action
}

type Builder struct {
	exchangeCount int
}

func NewBuilder(exchangeCount int) *Builder {
	return &Builder{exchangeCount: exchangeCount}
}

// Build produces a deterministic ticket body from the session and its
// history, suitable for snapshot testing: same inputs always yield the
// same title, reason, and bulleted summary text.
func (b *Builder) Build(session *model.Session, history []model.Message) Ticket {
	reason := "Escalated to a human agent"
	if session.EscalationReason != nil && *session.EscalationReason != "" {
		reason = *session.EscalationReason
	}

	title := fmt.Sprintf("Ticket %s — %s", shortID(session.ID), reason)

	exchanges := lastExchanges(history, b.exchangeCount)
	var lines []string
	for _, m := range exchanges {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", roleLabel(m.Role), truncate(m.Content, 200)))
	}
	summary := strings.Join(lines, "\n")
	if summary == "" {
		summary = "- (no prior messages)"
	}

	return Ticket{
		SessionID: session.ID,
		Title:     title,
		Reason:    reason,
		Summary:   summary,
		Actions:   []Action{ActionAccept, ActionClose},
	}
}

// lastExchanges returns the tail of history, at most 2*count messages
// (count user turns plus their AI responses).
func lastExchanges(history []model.Message, count int) []model.Message {
	limit := count * 2
	if limit <= 0 || limit >= len(history) {
		return history
	}
	return history[len(history)-limit:]
}

func roleLabel(role model.MessageRole) string {
	switch role {
	case model.RoleUser:
		return "User"
	case model.RoleAI:
		return "AI"
	case model.RoleAgent:
		return "Agent"
	default:
		return "System"
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
