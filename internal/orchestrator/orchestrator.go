// Package orchestrator implements the Orchestrator (C9): the per-message
// pipeline that composes the Session Store, Intent Classifier,
// Retrieval Answerer, Scheduling components, Escalation Builder, and
// Relay Hub, gated entirely on session state.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/audit"
	"github.com/supportdesk/dispatcher/internal/classifier"
	apperrors "github.com/supportdesk/dispatcher/internal/errors"
	"github.com/supportdesk/dispatcher/internal/escalation"
	"github.com/supportdesk/dispatcher/internal/inbound"
	"github.com/supportdesk/dispatcher/internal/model"
	"github.com/supportdesk/dispatcher/internal/relay"
	"github.com/supportdesk/dispatcher/internal/retrieval"
	"github.com/supportdesk/dispatcher/internal/retry"
	"github.com/supportdesk/dispatcher/internal/scheduling"
	"github.com/supportdesk/dispatcher/internal/store"
	"github.com/supportdesk/dispatcher/internal/workspace"
)

// Thresholds carries the per-category confidence cutoffs and gating
// knobs from spec.md §4.9.
type Thresholds struct {
	HighConfGeneral           float64
	HighConfCompliance        float64
	MedConfCap                float64
	// AbuseRepeatWindow is the lookback window in turns, not an
	// escalation count. Escalation fires on the second abusive turn
	// found inside it (abuseRepeatCountThreshold).
	AbuseRepeatWindow int
	EnterprisePricingTriggers []string
	UrgencyKeywords           []string
}

type Orchestrator struct {
	sessions   store.SessionStore
	classifier *classifier.Classifier
	answerer   *retrieval.Answerer
	slotGen    *scheduling.SlotGenerator
	booker     *scheduling.BookingExecutor
	builder    *escalation.Builder
	adapter    workspace.Adapter
	relay      *relay.Hub

	thresholds   Thresholds
	turnDeadline time.Duration

	mu       sync.Mutex
	inFlight map[string]*turnHandle
}

// turnHandle lets clearTurn tell "my turn" apart from a newer one that
// has already replaced it in the registry: func values aren't
// comparable, so a unique token travels alongside the cancel func.
type turnHandle struct {
	cancel context.CancelFunc
	token  *struct{}
}

func New(
	sessions store.SessionStore,
	clf *classifier.Classifier,
	answerer *retrieval.Answerer,
	slotGen *scheduling.SlotGenerator,
	booker *scheduling.BookingExecutor,
	builder *escalation.Builder,
	adapter workspace.Adapter,
	relayHub *relay.Hub,
	thresholds Thresholds,
	turnDeadline time.Duration,
) *Orchestrator {
	return &Orchestrator{
		sessions:     sessions,
		classifier:   clf,
		answerer:     answerer,
		slotGen:      slotGen,
		booker:       booker,
		builder:      builder,
		adapter:      adapter,
		relay:        relayHub,
		thresholds:   thresholds,
		turnDeadline: turnDeadline,
		inFlight:     make(map[string]*turnHandle),
	}
}

// HandleMessage runs the full gated pipeline for one inbound event:
// lookup, append, ai_disabled short-circuit, classify, abuse gate,
// slot-selection gate, scheduling gate, and information/escalation gate.
func (o *Orchestrator) HandleMessage(parentCtx context.Context, event inbound.Event) error {
	ctx, cancel := context.WithTimeout(parentCtx, o.turnDeadline)
	defer cancel()

	session, err := o.sessions.FindOrCreateActive(ctx, model.FindOrCreateParams{
		Surface:        event.Surface,
		ExternalUserID: event.UserKey,
		ChannelKey:     event.ChannelKey,
	})
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}

	handle := o.preemptPreviousTurn(session.ID, cancel)
	defer o.clearTurn(session.ID, handle)

	session, err = o.sessions.AppendMessage(ctx, model.AppendMessageParams{
		SessionID: session.ID,
		Role:      model.RoleUser,
		Content:   event.Text,
		Surface:   event.Surface,
	})
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}

	// Escalated-Unclaimed is AI-silent as well, although ai_disabled is
	// only derived for Claimed/Closed: the message goes to the ticket
	// thread instead of through the AI pipeline.
	if session.State.AIDisabled() || session.State == model.StateEscalatedUnclaimed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.relay.ForwardUserMessage(ctx, session, event.Text)
	}

	result := o.classifier.Classify(ctx, event.Text, len(session.PendingSlots) > 0)

	if result.Intent == model.IntentAbusive {
		return o.handleAbuse(ctx, session)
	}

	if result.IsSlotSelection && len(session.PendingSlots) > 0 {
		return o.handleSlotSelection(ctx, session, event.Text)
	}

	if result.Intent == model.IntentScheduling {
		return o.handleScheduling(ctx, session)
	}

	return o.handleInformationOrEscalate(ctx, session, event.Text)
}

func (o *Orchestrator) preemptPreviousTurn(sessionID string, cancel context.CancelFunc) *turnHandle {
	handle := &turnHandle{cancel: cancel, token: &struct{}{}}

	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.inFlight[sessionID]; ok {
		prev.cancel()
	}
	o.inFlight[sessionID] = handle
	return handle
}

func (o *Orchestrator) clearTurn(sessionID string, handle *turnHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if current, ok := o.inFlight[sessionID]; ok && current.token == handle.token {
		delete(o.inFlight, sessionID)
	}
}

// appendAI checks the turn's context immediately before appending so a
// preempted turn's stale reply never lands in history.
func (o *Orchestrator) appendAI(ctx context.Context, session *model.Session, content string, confidence *float64, intent *model.Intent, citations *int) (*model.Session, error) {
	if ctx.Err() != nil {
		return session, ctx.Err()
	}
	return o.sessions.AppendMessage(ctx, model.AppendMessageParams{
		SessionID:        session.ID,
		Role:             model.RoleAI,
		Content:          content,
		Surface:          session.Surface,
		Confidence:       confidence,
		ClassifierIntent: intent,
		Citations:        citations,
	})
}

func (o *Orchestrator) reply(ctx context.Context, session *model.Session, text string) {
	o.relay.PublishToUser(ctx, session, "message", map[string]string{
		"role": "ai",
		"text": text,
	})
}

const deescalationMessage = "I understand this is frustrating. Let's keep this constructive so I can help."

// abuseRepeatCountThreshold is the number of abusive turns within the
// lookback window (Thresholds.AbuseRepeatWindow) that triggers
// escalation: the second abusive message in the window, per spec.
const abuseRepeatCountThreshold = 2

func (o *Orchestrator) handleAbuse(ctx context.Context, session *model.Session) error {
	recentAbusive, err := o.countRecentAbusive(ctx, session.ID, o.thresholds.AbuseRepeatWindow)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("orchestrator: failed to count recent abusive turns")
	}

	intent := model.IntentAbusive
	session, err = o.appendAI(ctx, session, deescalationMessage, nil, &intent, nil)
	if err != nil {
		return err
	}
	o.reply(ctx, session, deescalationMessage)

	// recentAbusive counts earlier abusive turns only (each one left an
	// Abusive-tagged de-escalation reply); the current turn adds one.
	if recentAbusive+1 >= abuseRepeatCountThreshold {
		return o.escalate(ctx, session, "Repeated abusive messages")
	}
	return nil
}

// countRecentAbusive counts abusive turns within the last windowTurns
// messages of history (the M-turn lookback from spec.md §4.9 step 5 /
// §8).
func (o *Orchestrator) countRecentAbusive(ctx context.Context, sessionID string, windowTurns int) (int, error) {
	history, err := o.sessions.History(ctx, sessionID, windowTurns)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range history {
		if m.ClassifierIntent != nil && *m.ClassifierIntent == model.IntentAbusive {
			count++
		}
	}
	return count, nil
}

var slotIndexPattern = regexp.MustCompile(`\d+`)

func (o *Orchestrator) handleSlotSelection(ctx context.Context, session *model.Session, text string) error {
	match := slotIndexPattern.FindString(text)
	if match == "" {
		o.reply(ctx, session, "Which option would you like? Please reply with the number.")
		return nil
	}
	idx, _ := strconv.Atoi(match)

	var chosen *model.SlotOffer
	for i := range session.PendingSlots {
		if session.PendingSlots[i].OfferIndex == idx {
			chosen = &session.PendingSlots[i]
			break
		}
	}
	if chosen == nil {
		o.reply(ctx, session, "I couldn't match that to one of the offered times. Please reply with the option number shown.")
		return nil
	}

	var eventID string
	bookErr := retry.Do(ctx, isRetryableBookingError, func(ctx context.Context) error {
		var err error
		eventID, err = o.booker.Book(ctx, *chosen, session.ExternalUserID, "Support call")
		return err
	})

	if apperrors.GetCode(bookErr) == apperrors.ErrCodeSlotTaken {
		remaining := removeOffer(session.PendingSlots, idx)
		session, err := o.sessions.SetPendingSlots(ctx, session.ID, remaining)
		if err != nil {
			return err
		}
		o.reply(ctx, session, "That time was just taken. Here are the remaining options: "+formatOffers(remaining))
		return nil
	}
	if bookErr != nil {
		session, err := o.sessions.ClearPendingSlots(ctx, session.ID)
		if err != nil {
			return err
		}
		return o.escalate(ctx, session, "Booking failed")
	}

	session, err := o.sessions.ClearPendingSlots(ctx, session.ID)
	if err != nil {
		return err
	}
	confirmation := fmt.Sprintf("You're booked for %s (confirmation %s).", chosen.Start.Format(time.RFC1123), eventID)
	intent := model.IntentSlotSelection
	session, err = o.appendAI(ctx, session, confirmation, nil, &intent, nil)
	if err != nil {
		return err
	}
	o.reply(ctx, session, confirmation)
	return nil
}

// isRetryableBookingError skips the retry when the conflict is the
// slot itself rather than a transient calendar error: retrying an
// already-taken slot can never succeed.
func isRetryableBookingError(err error) bool {
	return apperrors.GetCode(err) != apperrors.ErrCodeSlotTaken
}

func removeOffer(offers model.SlotOffers, idx int) model.SlotOffers {
	out := make(model.SlotOffers, 0, len(offers))
	for _, offer := range offers {
		if offer.OfferIndex != idx {
			out = append(out, offer)
		}
	}
	return out
}

func formatOffers(offers model.SlotOffers) string {
	if len(offers) == 0 {
		return "none available right now"
	}
	parts := make([]string, 0, len(offers))
	for _, offer := range offers {
		parts = append(parts, fmt.Sprintf("%d) %s", offer.OfferIndex, offer.Start.Format(time.RFC1123)))
	}
	return strings.Join(parts, ", ")
}

func (o *Orchestrator) handleScheduling(ctx context.Context, session *model.Session) error {
	raw, err := o.slotGen.GenerateOffers(ctx, time.Now())
	if err != nil {
		text := "Scheduling is temporarily unavailable."
		session, aerr := o.appendAI(ctx, session, text, nil, nil, nil)
		if aerr == nil {
			o.reply(ctx, session, text)
		}
		return o.escalate(ctx, session, "Slot provider unavailable")
	}
	offers := model.SlotOffers(raw)

	session, err = o.sessions.SetPendingSlots(ctx, session.ID, offers)
	if err != nil {
		return err
	}

	text := "Here are some times that work: " + formatOffers(offers)
	intent := model.IntentScheduling
	session, err = o.appendAI(ctx, session, text, nil, &intent, nil)
	if err != nil {
		return err
	}
	o.reply(ctx, session, text)
	return nil
}

func (o *Orchestrator) handleInformationOrEscalate(ctx context.Context, session *model.Session, queryText string) error {
	if o.requiresHumanTouch(queryText) {
		return o.escalate(ctx, session, "Requires human touch")
	}

	recentAI, err := o.recentAIMessages(ctx, session.ID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("orchestrator: failed to load recent AI messages for dedup")
	}

	answer, err := o.answerer.Answer(ctx, queryText, recentAI)
	if err != nil {
		return o.escalate(ctx, session, "Retrieval unavailable")
	}

	if !answer.HasEvidence {
		return o.escalate(ctx, session, "No grounded answer")
	}

	threshold := o.thresholds.HighConfGeneral
	switch answer.Category {
	case "compliance":
		threshold = o.thresholds.HighConfCompliance
	case "pricing":
		threshold = o.thresholds.MedConfCap
	}

	if answer.Confidence >= threshold {
		confidence := answer.Confidence
		citations := answer.Citations
		intent := model.IntentInformation
		session, err = o.appendAI(ctx, session, answer.Text, &confidence, &intent, &citations)
		if err != nil {
			return err
		}
		o.reply(ctx, session, answer.Text)
		return nil
	}

	return o.escalate(ctx, session, "Low confidence answer")
}

func (o *Orchestrator) recentAIMessages(ctx context.Context, sessionID string) ([]string, error) {
	history, err := o.sessions.History(ctx, sessionID, 10)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, m := range history {
		if m.Role == model.RoleAI {
			texts = append(texts, m.Content)
		}
	}
	return texts, nil
}

func (o *Orchestrator) requiresHumanTouch(text string) bool {
	for _, trigger := range o.thresholds.EnterprisePricingTriggers {
		if containsFold(text, trigger) {
			return true
		}
	}
	for _, keyword := range o.thresholds.UrgencyKeywords {
		if containsFold(text, keyword) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

const specialistAck = "A specialist will be with you shortly."

// escalate transitions an Active-AI session to Escalated-Unclaimed and
// posts its ticket to the agent workspace. The post runs through
// retry.Do (MaxAttempts attempts in total); the transition happens only
// after a successful post, so a WorkspacePostFailed leaves the session
// in Active-AI and the user's next message tries the whole escalation
// again.
func (o *Orchestrator) escalate(ctx context.Context, session *model.Session, reason string) error {
	if session.State != model.StateActiveAI {
		return nil
	}

	history, err := o.sessions.History(ctx, session.ID, 50)
	if err != nil {
		return err
	}
	ticket := o.builder.Build(session, history)

	var threadKey string
	postErr := retry.Do(ctx, nil, func(ctx context.Context) error {
		var err error
		threadKey, err = o.adapter.PostTicket(ctx, ticket)
		return err
	})
	if postErr != nil {
		o.reply(ctx, session, "we couldn't reach a specialist; please try again or email support@example.com")
		return apperrors.WorkspacePostFailed(postErr)
	}

	updated, err := o.sessions.Transition(ctx, session.ID, model.StateActiveAI, model.StateEscalatedUnclaimed, store.TransitionFields{
		EscalationReason:   &reason,
		WorkspaceThreadKey: &threadKey,
	})
	if err != nil {
		return err
	}

	audit.Log(ctx, audit.Event{Type: audit.EventSessionEscalated, SessionID: updated.ID, Details: map[string]interface{}{"reason": reason}})
	o.reply(ctx, updated, specialistAck)
	return nil
}
