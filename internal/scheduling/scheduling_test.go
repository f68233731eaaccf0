package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
	"github.com/supportdesk/dispatcher/internal/model"
)

type mockCalendarProvider struct {
	mock.Mock
}

func (m *mockCalendarProvider) FreeBusy(ctx context.Context, start, end time.Time) ([]Busy, error) {
	args := m.Called(ctx, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Busy), args.Error(1)
}

func (m *mockCalendarProvider) CreateEvent(ctx context.Context, start, end time.Time, attendeeEmail, summary string) (string, error) {
	args := m.Called(ctx, start, end, attendeeEmail, summary)
	return args.String(0), args.Error(1)
}

func TestSlotGenerator_SkipsWeekendsAndBusyPeriods(t *testing.T) {
	provider := &mockCalendarProvider{}
	busy := []Busy{{
		Start: time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC),
	}}
	provider.On("FreeBusy", mock.Anything, mock.Anything, mock.Anything).Return(busy, nil)

	gen := NewSlotGenerator(provider, SlotGeneratorConfig{
		BusinessHourStart: 9,
		BusinessHourEnd:   17,
		BufferMinutes:     15,
		SlotDurationMin:   30,
		MaxOffers:         6,
		SearchDays:        5,
		Timezone:          "UTC",
	})

	// Monday 10am UTC.
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	offers, err := gen.GenerateOffers(context.Background(), now)

	require.NoError(t, err)
	assert.LessOrEqual(t, len(offers), 6)
	for _, o := range offers {
		assert.NotEqual(t, time.Saturday, o.Start.Weekday())
		assert.NotEqual(t, time.Sunday, o.Start.Weekday())
		assert.False(t, overlapsAny(o.Start, o.End, busy))
	}
}

func TestSlotGenerator_RespectsMaxOffersCap(t *testing.T) {
	provider := &mockCalendarProvider{}
	provider.On("FreeBusy", mock.Anything, mock.Anything, mock.Anything).Return([]Busy{}, nil)

	gen := NewSlotGenerator(provider, SlotGeneratorConfig{
		BusinessHourStart: 9,
		BusinessHourEnd:   17,
		BufferMinutes:     0,
		SlotDurationMin:   30,
		MaxOffers:         3,
		SearchDays:        5,
		Timezone:          "UTC",
	})

	now := time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC)
	offers, err := gen.GenerateOffers(context.Background(), now)

	require.NoError(t, err)
	assert.LessOrEqual(t, len(offers), 3)
}

func TestBookingExecutor_SlotTakenOnReCheckConflict(t *testing.T) {
	provider := &mockCalendarProvider{}
	offer := model.SlotOffer{
		Start: time.Date(2026, 8, 4, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 4, 10, 30, 0, 0, time.UTC),
	}
	provider.On("FreeBusy", mock.Anything, offer.Start, offer.End).Return([]Busy{
		{Start: offer.Start, End: offer.End},
	}, nil)

	executor := NewBookingExecutor(provider)
	_, err := executor.Book(context.Background(), offer, "user@example.com", "Demo")

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSlotTaken, appErr.Code)
	provider.AssertNotCalled(t, "CreateEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingExecutor_BooksWhenStillFree(t *testing.T) {
	provider := &mockCalendarProvider{}
	offer := model.SlotOffer{
		Start: time.Date(2026, 8, 4, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 4, 10, 30, 0, 0, time.UTC),
	}
	provider.On("FreeBusy", mock.Anything, offer.Start, offer.End).Return([]Busy{}, nil)
	provider.On("CreateEvent", mock.Anything, offer.Start, offer.End, "user@example.com", "Demo").Return("evt-1", nil)

	executor := NewBookingExecutor(provider)
	eventID, err := executor.Book(context.Background(), offer, "user@example.com", "Demo")

	require.NoError(t, err)
	assert.Equal(t, "evt-1", eventID)
}
