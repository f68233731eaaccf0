package scheduling

import (
	"context"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
	"github.com/supportdesk/dispatcher/internal/model"
)

type BookingExecutor struct {
	provider CalendarProvider
}

func NewBookingExecutor(provider CalendarProvider) *BookingExecutor {
	return &BookingExecutor{provider: provider}
}

// Book re-checks availability at booking time and fails with SlotTaken if
// the slot has been consumed between offer and selection. Book itself
// never retries; the orchestrator retries errors other than SlotTaken
// through retry.Do.
func (b *BookingExecutor) Book(ctx context.Context, offer model.SlotOffer, attendeeEmail, summary string) (eventID string, err error) {
	busy, err := b.provider.FreeBusy(ctx, offer.Start, offer.End)
	if err != nil {
		return "", err
	}
	if overlapsAny(offer.Start, offer.End, busy) {
		return "", apperrors.SlotTaken()
	}

	return b.provider.CreateEvent(ctx, offer.Start, offer.End, attendeeEmail, summary)
}
