package scheduling

import (
	"context"
	"time"

	"github.com/supportdesk/dispatcher/internal/model"
)

// SlotGeneratorConfig carries the business-rule knobs for candidate slot
// generation, grounded on the original slot fetcher's SlotGenerationConfig.
type SlotGeneratorConfig struct {
	BusinessHourStart int
	BusinessHourEnd   int
	BufferMinutes     int
	SlotDurationMin   int
	MaxOffers         int
	SearchDays        int
	Timezone          string
}

type SlotGenerator struct {
	provider CalendarProvider
	config   SlotGeneratorConfig
}

func NewSlotGenerator(provider CalendarProvider, config SlotGeneratorConfig) *SlotGenerator {
	return &SlotGenerator{provider: provider, config: config}
}

// GenerateOffers walks business days forward from now in quarter-hour
// steps from the start of business hours, skipping slots that start less
// than BufferMinutes after now or that come within BufferMinutes of a
// busy interval, and caps the result at MaxOffers.
func (g *SlotGenerator) GenerateOffers(ctx context.Context, now time.Time) ([]model.SlotOffer, error) {
	loc, err := time.LoadLocation(g.config.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now = now.In(loc)
	buffer := time.Duration(g.config.BufferMinutes) * time.Minute
	earliest := now.Add(buffer)

	searchStart := truncateToDay(now, loc)
	searchEnd := searchStart.AddDate(0, 0, g.config.SearchDays+1)

	busy, err := g.provider.FreeBusy(ctx, searchStart, searchEnd)
	if err != nil {
		return nil, err
	}

	var offers []model.SlotOffer
	duration := time.Duration(g.config.SlotDurationMin) * time.Minute

	for dayOffset := 0; dayOffset < g.config.SearchDays && len(offers) < g.config.MaxOffers; dayOffset++ {
		day := searchStart.AddDate(0, 0, dayOffset)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		dayStart := time.Date(day.Year(), day.Month(), day.Day(), g.config.BusinessHourStart, 0, 0, 0, loc)
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), g.config.BusinessHourEnd, 0, 0, 0, loc)

		for slotStart := dayStart; slotStart.Add(duration).Before(dayEnd) || slotStart.Add(duration).Equal(dayEnd); slotStart = slotStart.Add(15 * time.Minute) {
			if len(offers) >= g.config.MaxOffers {
				break
			}
			slotEnd := slotStart.Add(duration)
			if slotStart.Before(earliest) {
				continue
			}
			if overlapsAny(slotStart.Add(-buffer), slotEnd.Add(buffer), busy) {
				continue
			}
			offers = append(offers, model.SlotOffer{
				OfferIndex:      len(offers) + 1,
				Start:           slotStart,
				End:             slotEnd,
				DisplayTimezone: g.config.Timezone,
			})
		}
	}

	return offers, nil
}

func truncateToDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func overlapsAny(start, end time.Time, busy []Busy) bool {
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}
