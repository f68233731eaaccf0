package model

// SessionState is the position of a Session in its lifecycle. Allowed
// transitions are Active-AI -> Escalated-Unclaimed -> Escalated-Claimed ->
// Closed, plus the terminal shortcut Active-AI -> Closed. No other
// transition is valid.
type SessionState string

const (
	StateActiveAI           SessionState = "active_ai"
	StateEscalatedUnclaimed SessionState = "escalated_unclaimed"
	StateEscalatedClaimed   SessionState = "escalated_claimed"
	StateClosed             SessionState = "closed"
)

// activeStates backs invariant 1 (exactly-one active session per user).
var activeStates = map[SessionState]bool{
	StateActiveAI:           true,
	StateEscalatedUnclaimed: true,
	StateEscalatedClaimed:   true,
}

func (s SessionState) IsActive() bool {
	return activeStates[s]
}

// AIDisabled derives the ai_disabled gate from state, per the invariant
// ai_disabled <=> state in {Escalated-Claimed, Closed}.
func (s SessionState) AIDisabled() bool {
	return s == StateEscalatedClaimed || s == StateClosed
}

// Surface identifies the transport a message or session originated on.
type Surface string

const (
	SurfaceWeb       Surface = "web"
	SurfaceWebhook   Surface = "webhook"
	SurfaceWorkspace Surface = "workspace"
)

// MessageRole identifies who authored a Message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAI     MessageRole = "ai"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// Intent is the classifier's output category (C2).
type Intent string

const (
	IntentInformation      Intent = "information"
	IntentScheduling       Intent = "scheduling"
	IntentTechnicalSupport Intent = "technical_support"
	IntentSlotSelection    Intent = "slot_selection"
	IntentAbusive          Intent = "abusive"
	IntentUnknown          Intent = "unknown"
)

// validTransitions enumerates every allowed (from, to) pair in the
// monotonic state machine (invariant 3): the escalation chain plus the
// Active-AI -> Closed shortcut. No other transition is valid.
var validTransitions = map[SessionState]map[SessionState]bool{
	StateActiveAI: {
		StateEscalatedUnclaimed: true,
		StateClosed:             true,
	},
	StateEscalatedUnclaimed: {
		StateEscalatedClaimed: true,
	},
	StateEscalatedClaimed: {
		StateClosed: true,
	},
}

func CanTransition(from, to SessionState) bool {
	return validTransitions[from][to]
}
