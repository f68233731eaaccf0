package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session is one live (or archived) conversation between one user and the
// dispatcher. History lives in a separate append-only table
// (session_messages); pending_slots is the only nested collection kept
// inline, since it is replaced wholesale on every scheduling prompt and
// cleared atomically on booking.
type Session struct {
	ID                 string       `db:"id" json:"id"`
	Surface            Surface      `db:"surface" json:"surface"`
	ExternalUserID     string       `db:"external_user_id" json:"externalUserId"`
	ChannelKey         string       `db:"channel_key" json:"channelKey"`
	WorkspaceThreadKey *string      `db:"workspace_thread_key" json:"workspaceThreadKey,omitempty"`
	State              SessionState `db:"state" json:"state"`
	AssignedAgent      *string      `db:"assigned_agent" json:"assignedAgent,omitempty"`
	AIDisabled         bool         `db:"ai_disabled" json:"aiDisabled"`
	EscalationReason   *string      `db:"escalation_reason" json:"escalationReason,omitempty"`
	PendingSlots       SlotOffers   `db:"pending_slots" json:"pendingSlots,omitempty"`
	EscalatedAt        *time.Time   `db:"escalated_at" json:"escalatedAt,omitempty"`
	ClaimedAt          *time.Time   `db:"claimed_at" json:"claimedAt,omitempty"`
	ClosedAt           *time.Time   `db:"closed_at" json:"closedAt,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updatedAt"`
}

// UserKey is the (surface, external_user_id) pair invariant 1 is keyed on.
func (s *Session) UserKey() (Surface, string) {
	return s.Surface, s.ExternalUserID
}

// SlotOffer is one presented scheduling option.
type SlotOffer struct {
	OfferIndex      int       `json:"offerIndex"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DisplayTimezone string    `json:"displayTimezone"`
}

// SlotOffers implements sql/driver value conversion so a []SlotOffer can
// be stored directly in the sessions.pending_slots jsonb column.
type SlotOffers []SlotOffer

func (s SlotOffers) Value() (any, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *SlotOffers) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for SlotOffers", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, s)
}

// FindOrCreateParams describes the inputs to find_or_create_active.
type FindOrCreateParams struct {
	Surface        Surface
	ExternalUserID string
	ChannelKey     string
}

// Stats mirrors the aggregate counters the original dashboard surfaced,
// now exposed over GET /stats.
type Stats struct {
	TotalSessions      int64 `db:"total_sessions" json:"totalSessions"`
	ActiveAI           int64 `db:"active_ai" json:"activeAi"`
	EscalatedUnclaimed int64 `db:"escalated_unclaimed" json:"escalatedUnclaimed"`
	EscalatedClaimed   int64 `db:"escalated_claimed" json:"escalatedClaimed"`
	Closed             int64 `db:"closed" json:"closed"`
	MessagesLast24h    int64 `db:"messages_last24h" json:"messagesLast24h"`
	EscalationsLast24h int64 `db:"escalations_last24h" json:"escalationsLast24h"`
}
