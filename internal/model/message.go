package model

import "time"

// Message is one atomic turn recorded in a session's history. History is
// append-only (invariant 4): corrections are new messages, never edits.
type Message struct {
	ID                string      `db:"id" json:"id"`
	SessionID         string      `db:"session_id" json:"sessionId"`
	Role              MessageRole `db:"role" json:"role"`
	Content           string      `db:"content" json:"content"`
	Surface           Surface     `db:"surface" json:"surface"`
	AgentDisplayName  *string     `db:"agent_display_name" json:"agentDisplayName,omitempty"`
	Confidence        *float64    `db:"confidence" json:"confidence,omitempty"`
	ClassifierIntent  *Intent     `db:"classifier_intent" json:"classifierIntent,omitempty"`
	Citations         *int        `db:"citations" json:"citations,omitempty"`
	At                time.Time   `db:"at" json:"at"`
}

// AppendMessageParams describes the inputs to append_message.
type AppendMessageParams struct {
	SessionID        string
	Role             MessageRole
	Content          string
	Surface          Surface
	AgentDisplayName *string
	Confidence       *float64
	ClassifierIntent *Intent
	Citations        *int
}
