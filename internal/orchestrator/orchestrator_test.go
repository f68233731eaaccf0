package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/supportdesk/dispatcher/internal/classifier"
	"github.com/supportdesk/dispatcher/internal/escalation"
	"github.com/supportdesk/dispatcher/internal/inbound"
	"github.com/supportdesk/dispatcher/internal/llm"
	"github.com/supportdesk/dispatcher/internal/model"
	"github.com/supportdesk/dispatcher/internal/redis"
	"github.com/supportdesk/dispatcher/internal/relay"
	"github.com/supportdesk/dispatcher/internal/retrieval"
	"github.com/supportdesk/dispatcher/internal/scheduling"
	"github.com/supportdesk/dispatcher/internal/sse"
	"github.com/supportdesk/dispatcher/internal/store"
	"github.com/supportdesk/dispatcher/internal/workspace"
)

type mockSessionStore struct {
	mock.Mock
}

func (m *mockSessionStore) FindOrCreateActive(ctx context.Context, params model.FindOrCreateParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	return asSession(args.Get(0)), args.Error(1)
}
func (m *mockSessionStore) AppendMessage(ctx context.Context, params model.AppendMessageParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	return asSession(args.Get(0)), args.Error(1)
}
func (m *mockSessionStore) Transition(ctx context.Context, sessionID string, from, to model.SessionState, fields store.TransitionFields) (*model.Session, error) {
	args := m.Called(ctx, sessionID, from, to, fields)
	return asSession(args.Get(0)), args.Error(1)
}
func (m *mockSessionStore) SetPendingSlots(ctx context.Context, sessionID string, slots model.SlotOffers) (*model.Session, error) {
	args := m.Called(ctx, sessionID, slots)
	return asSession(args.Get(0)), args.Error(1)
}
func (m *mockSessionStore) ClearPendingSlots(ctx context.Context, sessionID string) (*model.Session, error) {
	args := m.Called(ctx, sessionID)
	return asSession(args.Get(0)), args.Error(1)
}
func (m *mockSessionStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	args := m.Called(ctx, sessionID)
	return asSession(args.Get(0)), args.Error(1)
}
func (m *mockSessionStore) GetByWorkspaceThread(ctx context.Context, workspaceThreadKey string) (*model.Session, error) {
	args := m.Called(ctx, workspaceThreadKey)
	return asSession(args.Get(0)), args.Error(1)
}
func (m *mockSessionStore) History(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	args := m.Called(ctx, sessionID, limit)
	msgs, _ := args.Get(0).([]model.Message)
	return msgs, args.Error(1)
}
func (m *mockSessionStore) Stats(ctx context.Context) (*model.Stats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*model.Stats)
	return stats, args.Error(1)
}
func (m *mockSessionStore) CloseStaleEscalations(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockSessionStore) WithTx(tx *sqlx.Tx) store.SessionStore { return m }

func asSession(v any) *model.Session {
	s, _ := v.(*model.Session)
	return s
}

type mockAdapter struct {
	mock.Mock
}

func (a *mockAdapter) PostTicket(ctx context.Context, ticket escalation.Ticket) (string, error) {
	args := a.Called(ctx, ticket)
	return args.String(0), args.Error(1)
}
func (a *mockAdapter) EditTicket(ctx context.Context, workspaceThreadKey string, ticket escalation.Ticket) error {
	args := a.Called(ctx, workspaceThreadKey, ticket)
	return args.Error(0)
}
func (a *mockAdapter) PostThreadMessage(ctx context.Context, workspaceThreadKey, text, roleLabel string) error {
	args := a.Called(ctx, workspaceThreadKey, text, roleLabel)
	return args.Error(0)
}
func (a *mockAdapter) ButtonActions() <-chan workspace.ButtonAction { return nil }
func (a *mockAdapter) ThreadReplies() <-chan workspace.ThreadReply  { return nil }
func (a *mockAdapter) Start(ctx context.Context) error              { return nil }
func (a *mockAdapter) Stop() error                                  { return nil }

type mockVectorIndex struct {
	mock.Mock
}

func (v *mockVectorIndex) Query(ctx context.Context, text string, k int) ([]retrieval.Chunk, error) {
	args := v.Called(ctx, text, k)
	chunks, _ := args.Get(0).([]retrieval.Chunk)
	return chunks, args.Error(1)
}

type mockLLMClient struct {
	mock.Mock
}

func (l *mockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := l.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.CompletionResponse)
	return resp, args.Error(1)
}

type mockCalendarProvider struct {
	mock.Mock
}

func (c *mockCalendarProvider) FreeBusy(ctx context.Context, start, end time.Time) ([]scheduling.Busy, error) {
	args := c.Called(ctx, start, end)
	busy, _ := args.Get(0).([]scheduling.Busy)
	return busy, args.Error(1)
}

func (c *mockCalendarProvider) CreateEvent(ctx context.Context, start, end time.Time, attendeeEmail, summary string) (string, error) {
	args := c.Called(ctx, start, end, attendeeEmail, summary)
	return args.String(0), args.Error(1)
}

func defaultThresholds() Thresholds {
	return Thresholds{
		HighConfGeneral:           0.70,
		HighConfCompliance:        0.75,
		MedConfCap:                0.65,
		AbuseRepeatWindow:         10,
		EnterprisePricingTriggers: []string{"enterprise"},
		UrgencyKeywords:           []string{"lawsuit"},
	}
}

type testHarness struct {
	orch     *Orchestrator
	sessions *mockSessionStore
	adapter  *mockAdapter
	vector   *mockVectorIndex
	llmMock  *mockLLMClient
	calendar *mockCalendarProvider
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	sessions := &mockSessionStore{}
	adapter := &mockAdapter{}
	vector := &mockVectorIndex{}
	llmMock := &mockLLMClient{}
	calendar := &mockCalendarProvider{}

	clf := classifier.New(llmMock, 0.60, []string{"idiot", "useless"})
	answerer := retrieval.NewAnswerer(vector, llmMock, 5, 1, 0.5, 0.5, 5, []string{"compliance", "gdpr"})
	slotGen := scheduling.NewSlotGenerator(calendar, scheduling.SlotGeneratorConfig{
		BusinessHourStart: 9, BusinessHourEnd: 17, BufferMinutes: 30,
		SlotDurationMin: 30, MaxOffers: 3, SearchDays: 5, Timezone: "UTC",
	})
	booker := scheduling.NewBookingExecutor(calendar)
	builder := escalation.NewBuilder(6)
	// An unreachable-but-valid redis client: Publish fails fast with a
	// connection error rather than panicking the way a zero-value
	// *redis.Client (nil embedded conn) would.
	brokerClient := &redis.Client{Client: goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})}
	broker := sse.NewBroker(brokerClient)
	hub := relay.NewHub(sessions, adapter, broker, builder, nil)

	orch := New(sessions, clf, answerer, slotGen, booker, builder, adapter, hub, defaultThresholds(), 30*time.Second)
	return &testHarness{orch: orch, sessions: sessions, adapter: adapter, vector: vector, llmMock: llmMock, calendar: calendar}
}

func activeSession(id string) *model.Session {
	return &model.Session{
		ID:             id,
		Surface:        model.SurfaceWeb,
		ExternalUserID: "user-1",
		ChannelKey:     "user-1",
		State:          model.StateActiveAI,
	}
}

func TestHandleMessage_AIDisabledForwardsToWorkspaceThread(t *testing.T) {
	h := newHarness(t)
	thread := "thread-7"
	found := &model.Session{
		ID: "s1", State: model.StateEscalatedClaimed, WorkspaceThreadKey: &thread,
		Surface: model.SurfaceWeb, ExternalUserID: "user-1",
	}

	h.sessions.On("FindOrCreateActive", mock.Anything, mock.Anything).Return(found, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.Anything).Return(found, nil)
	h.adapter.On("PostThreadMessage", mock.Anything, "thread-7", "still broken", "User").Return(nil)

	err := h.orch.HandleMessage(context.Background(), inbound.FromWebSurface("user-1", "still broken", time.Now()))
	require.NoError(t, err)
	h.adapter.AssertExpectations(t)
}

func TestHandleMessage_AbuseEscalatesOnSecondAbusiveTurnInWindow(t *testing.T) {
	h := newHarness(t)
	session := activeSession("s1")

	h.sessions.On("FindOrCreateActive", mock.Anything, mock.Anything).Return(session, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.MatchedBy(func(p model.AppendMessageParams) bool {
		return p.Role == model.RoleUser
	})).Return(session, nil)

	abusiveIntent := model.IntentAbusive
	history := []model.Message{
		{ClassifierIntent: &abusiveIntent},
	}
	h.sessions.On("History", mock.Anything, "s1", 10).Return(history, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.MatchedBy(func(p model.AppendMessageParams) bool {
		return p.Role == model.RoleAI
	})).Return(session, nil)
	h.sessions.On("History", mock.Anything, "s1", 50).Return(history, nil)

	h.adapter.On("PostTicket", mock.Anything, mock.Anything).Return("thread-9", nil)
	h.sessions.On("Transition", mock.Anything, "s1", model.StateActiveAI, model.StateEscalatedUnclaimed, mock.Anything).
		Return(&model.Session{ID: "s1", State: model.StateEscalatedUnclaimed, Surface: model.SurfaceWeb, ExternalUserID: "user-1"}, nil)

	err := h.orch.HandleMessage(context.Background(), inbound.FromWebSurface("user-1", "you are useless", time.Now()))
	require.NoError(t, err)
	h.sessions.AssertCalled(t, "Transition", mock.Anything, "s1", model.StateActiveAI, model.StateEscalatedUnclaimed, mock.Anything)
}

func TestHandleMessage_SlotSelectionBooksChosenOffer(t *testing.T) {
	h := newHarness(t)
	start := time.Now().Add(24 * time.Hour)
	session := activeSession("s1")
	session.PendingSlots = model.SlotOffers{
		{OfferIndex: 1, Start: start, End: start.Add(30 * time.Minute)},
		{OfferIndex: 2, Start: start.Add(time.Hour), End: start.Add(90 * time.Minute)},
	}

	h.sessions.On("FindOrCreateActive", mock.Anything, mock.Anything).Return(session, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.MatchedBy(func(p model.AppendMessageParams) bool {
		return p.Role == model.RoleUser
	})).Return(session, nil)
	h.calendar.On("FreeBusy", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	h.calendar.On("CreateEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("evt-1", nil)
	h.sessions.On("ClearPendingSlots", mock.Anything, "s1").Return(session, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.MatchedBy(func(p model.AppendMessageParams) bool {
		return p.Role == model.RoleAI
	})).Return(session, nil)

	err := h.orch.HandleMessage(context.Background(), inbound.FromWebSurface("user-1", "I'll take option 1", time.Now()))
	require.NoError(t, err)
	h.calendar.AssertCalled(t, "CreateEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleMessage_SlotTakenReOffersRemainingWithoutEscalating(t *testing.T) {
	h := newHarness(t)
	start := time.Now().Add(24 * time.Hour)
	session := activeSession("s1")
	session.PendingSlots = model.SlotOffers{
		{OfferIndex: 1, Start: start, End: start.Add(30 * time.Minute)},
		{OfferIndex: 2, Start: start.Add(time.Hour), End: start.Add(90 * time.Minute)},
	}

	h.sessions.On("FindOrCreateActive", mock.Anything, mock.Anything).Return(session, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.Anything).Return(session, nil)
	h.calendar.On("FreeBusy", mock.Anything, mock.Anything, mock.Anything).Return(
		[]scheduling.Busy{{Start: start, End: start.Add(30 * time.Minute)}}, nil)
	h.sessions.On("SetPendingSlots", mock.Anything, "s1", mock.Anything).Return(session, nil)

	err := h.orch.HandleMessage(context.Background(), inbound.FromWebSurface("user-1", "option 1 please", time.Now()))
	require.NoError(t, err)
	h.sessions.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.adapter.AssertNotCalled(t, "PostTicket", mock.Anything, mock.Anything)
}

func TestHandleMessage_LowConfidenceAnswerEscalates(t *testing.T) {
	h := newHarness(t)
	session := activeSession("s1")

	h.sessions.On("FindOrCreateActive", mock.Anything, mock.Anything).Return(session, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.Anything).Return(session, nil)
	h.sessions.On("History", mock.Anything, "s1", 10).Return([]model.Message{}, nil)
	h.vector.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(
		[]retrieval.Chunk{{Text: "unrelated snippet", Score: 0.9}}, nil)
	h.llmMock.On("Complete", mock.Anything, mock.Anything).Return(
		&llm.CompletionResponse{Content: "Maybe this helps.\nCONFIDENCE: 0.30"}, nil)
	h.sessions.On("History", mock.Anything, "s1", 50).Return([]model.Message{}, nil)
	h.adapter.On("PostTicket", mock.Anything, mock.Anything).Return("thread-3", nil)
	h.sessions.On("Transition", mock.Anything, "s1", model.StateActiveAI, model.StateEscalatedUnclaimed, mock.Anything).
		Return(&model.Session{ID: "s1", State: model.StateEscalatedUnclaimed, Surface: model.SurfaceWeb, ExternalUserID: "user-1"}, nil)

	err := h.orch.HandleMessage(context.Background(), inbound.FromWebSurface("user-1", "how does billing work", time.Now()))
	require.NoError(t, err)
	h.adapter.AssertCalled(t, "PostTicket", mock.Anything, mock.Anything)
}

func TestHandleMessage_WorkspacePostFailureLeavesSessionActiveAI(t *testing.T) {
	h := newHarness(t)
	session := activeSession("s1")

	h.sessions.On("FindOrCreateActive", mock.Anything, mock.Anything).Return(session, nil)
	h.sessions.On("AppendMessage", mock.Anything, mock.Anything).Return(session, nil)
	h.sessions.On("History", mock.Anything, "s1", 10).Return([]model.Message{}, nil)
	h.llmMock.On("Complete", mock.Anything, mock.Anything).Return(
		&llm.CompletionResponse{Content: "Maybe this helps.\nCONFIDENCE: 0.30"}, nil)
	h.vector.On("Query", mock.Anything, mock.Anything, mock.Anything).Return([]retrieval.Chunk{}, nil)
	h.sessions.On("History", mock.Anything, "s1", 50).Return([]model.Message{}, nil)
	h.adapter.On("PostTicket", mock.Anything, mock.Anything).Return("", assert.AnError)

	err := h.orch.HandleMessage(context.Background(), inbound.FromWebSurface("user-1", "how does billing work", time.Now()))
	require.Error(t, err)
	h.sessions.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, model.StateActiveAI, session.State)
}

func TestPreemptPreviousTurn_CancelsOlderTurnForSameSession(t *testing.T) {
	h := newHarness(t)
	firstCtx, firstCancel := context.WithCancel(context.Background())
	h.orch.preemptPreviousTurn("s1", firstCancel)

	_, secondCancel := context.WithCancel(context.Background())
	h.orch.preemptPreviousTurn("s1", secondCancel)

	assert.Error(t, firstCtx.Err(), "starting a second turn for the same session must cancel the first")
}

func TestClearTurn_OnlyRemovesMatchingHandle(t *testing.T) {
	h := newHarness(t)
	_, cancel1 := context.WithCancel(context.Background())
	handle1 := h.orch.preemptPreviousTurn("s1", cancel1)

	_, cancel2 := context.WithCancel(context.Background())
	handle2 := h.orch.preemptPreviousTurn("s1", cancel2)

	h.orch.clearTurn("s1", handle1)
	h.orch.mu.Lock()
	_, stillPresent := h.orch.inFlight["s1"]
	h.orch.mu.Unlock()
	assert.True(t, stillPresent, "clearing a stale handle must not remove a newer turn's entry")

	h.orch.clearTurn("s1", handle2)
	h.orch.mu.Lock()
	_, present := h.orch.inFlight["s1"]
	h.orch.mu.Unlock()
	assert.False(t, present)
}
