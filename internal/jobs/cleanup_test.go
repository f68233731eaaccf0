package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/supportdesk/dispatcher/internal/model"
	"github.com/supportdesk/dispatcher/internal/store"
)

type mockSessionStore struct {
	mock.Mock
}

func (m *mockSessionStore) FindOrCreateActive(ctx context.Context, params model.FindOrCreateParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	return sessionArg(args, 0), args.Error(1)
}
func (m *mockSessionStore) AppendMessage(ctx context.Context, params model.AppendMessageParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	return sessionArg(args, 0), args.Error(1)
}
func (m *mockSessionStore) Transition(ctx context.Context, sessionID string, from, to model.SessionState, fields store.TransitionFields) (*model.Session, error) {
	args := m.Called(ctx, sessionID, from, to, fields)
	return sessionArg(args, 0), args.Error(1)
}
func (m *mockSessionStore) SetPendingSlots(ctx context.Context, sessionID string, slots model.SlotOffers) (*model.Session, error) {
	args := m.Called(ctx, sessionID, slots)
	return sessionArg(args, 0), args.Error(1)
}
func (m *mockSessionStore) ClearPendingSlots(ctx context.Context, sessionID string) (*model.Session, error) {
	args := m.Called(ctx, sessionID)
	return sessionArg(args, 0), args.Error(1)
}
func (m *mockSessionStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	args := m.Called(ctx, sessionID)
	return sessionArg(args, 0), args.Error(1)
}
func (m *mockSessionStore) GetByWorkspaceThread(ctx context.Context, workspaceThreadKey string) (*model.Session, error) {
	args := m.Called(ctx, workspaceThreadKey)
	return sessionArg(args, 0), args.Error(1)
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
func (m *mockSessionStore) WithTx(tx *sqlx.Tx) store.SessionStore {
	return m
}

func sessionArg(args mock.Arguments, i int) *model.Session {
	s, _ := args.Get(i).(*model.Session)
	return s
}

type mockIdempotencyStore struct {
	mock.Mock
}

func (m *mockIdempotencyStore) MarkSeen(ctx context.Context, key string, sessionID *string) (bool, error) {
	args := m.Called(ctx, key, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotencyStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func TestCleanupJob_CreatesWithInterval(t *testing.T) {
	job := NewCleanupJob(nil, nil, 0, 5*time.Minute)

	assert.NotNil(t, job)
	assert.Equal(t, 5*time.Minute, job.interval)
}

func TestCleanupJob_StartsAndStopsWithoutPanic(t *testing.T) {
	sessions := &mockSessionStore{}
	idempotency := &mockIdempotencyStore{}
	idempotency.On("Prune", mock.Anything, mock.Anything).Return(int64(0), nil)

	job := NewCleanupJob(sessions, idempotency, 0, 20*time.Millisecond)

	job.Start()
	time.Sleep(50 * time.Millisecond)
	job.Stop()
}

func TestCleanupJob_SweepsStaleEscalationsWhenTimeoutConfigured(t *testing.T) {
	sessions := &mockSessionStore{}
	sessions.On("CloseStaleEscalations", mock.Anything, mock.Anything).Return(int64(2), nil)

	idempotency := &mockIdempotencyStore{}
	idempotency.On("Prune", mock.Anything, mock.Anything).Return(int64(0), nil)

	job := NewCleanupJob(sessions, idempotency, 30*time.Minute, time.Hour)

	job.Start()
	time.Sleep(10 * time.Millisecond)
	job.Stop()

	sessions.AssertCalled(t, "CloseStaleEscalations", mock.Anything, mock.Anything)
}

func TestCleanupJob_SkipsEscalationSweepWhenDisabled(t *testing.T) {
	sessions := &mockSessionStore{}
	idempotency := &mockIdempotencyStore{}
	idempotency.On("Prune", mock.Anything, mock.Anything).Return(int64(0), nil)

	job := NewCleanupJob(sessions, idempotency, 0, time.Hour)

	job.Start()
	time.Sleep(10 * time.Millisecond)
	job.Stop()

	sessions.AssertNotCalled(t, "CloseStaleEscalations", mock.Anything, mock.Anything)
}
