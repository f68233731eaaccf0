// Package scheduling implements the Slot Provider (C4) and Booking
// Executor (C5): generating candidate meeting slots against calendar
// availability, and booking a chosen slot with a re-check at booking
// time to guarantee single-use consumption (invariant 6).
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
)

func jsonReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// Busy is one occupied interval on the calendar.
type Busy struct {
	Start time.Time
	End   time.Time
}

// CalendarProvider is the contract the slot generator and booking
// executor both depend on.
type CalendarProvider interface {
	FreeBusy(ctx context.Context, start, end time.Time) ([]Busy, error)
	CreateEvent(ctx context.Context, start, end time.Time, attendeeEmail, summary string) (eventID string, err error)
}

// GoogleCalendarClient talks to the Google Calendar v3 REST API using an
// OAuth2 refresh-token-backed bearer token, the same way every other
// external collaborator in this service is a thin net/http client rather
// than a vendored SDK.
type GoogleCalendarClient struct {
	baseURL    string
	calendarID string
	httpClient *http.Client
}

func NewGoogleCalendarClient(baseURL, calendarID, clientID, clientSecret, refreshToken string, timeout time.Duration) *GoogleCalendarClient {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	tokenSource := conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken})

	return &GoogleCalendarClient{
		baseURL:    baseURL,
		calendarID: calendarID,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: tokenSource, Base: http.DefaultTransport},
		},
	}
}

type freeBusyRequest struct {
	TimeMin string `json:"timeMin"`
	TimeMax string `json:"timeMax"`
	Items   []struct {
		ID string `json:"id"`
	} `json:"items"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

func (g *GoogleCalendarClient) FreeBusy(ctx context.Context, start, end time.Time) ([]Busy, error) {
	body, _ := json.Marshal(freeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []struct{ ID string `json:"id"` }{{ID: g.calendarID}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/freeBusy", jsonReader(body))
	if err != nil {
		return nil, apperrors.SlotProviderUnavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.SlotProviderUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperrors.SlotProviderUnavailable(fmt.Errorf("calendar freeBusy returned status %d", resp.StatusCode))
	}

	var parsed freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.SlotProviderUnavailable(err)
	}

	var busy []Busy
	for _, period := range parsed.Calendars[g.calendarID].Busy {
		s, err1 := time.Parse(time.RFC3339, period.Start)
		e, err2 := time.Parse(time.RFC3339, period.End)
		if err1 != nil || err2 != nil {
			continue
		}
		busy = append(busy, Busy{Start: s, End: e})
	}
	return busy, nil
}

type eventRequest struct {
	Summary string `json:"summary"`
	Start   struct {
		DateTime string `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
	} `json:"end"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees"`
}

type eventResponse struct {
	ID string `json:"id"`
}

func (g *GoogleCalendarClient) CreateEvent(ctx context.Context, start, end time.Time, attendeeEmail, summary string) (string, error) {
	req := eventRequest{Summary: summary}
	req.Start.DateTime = start.UTC().Format(time.RFC3339)
	req.End.DateTime = end.UTC().Format(time.RFC3339)
	req.Attendees = []struct {
		Email string `json:"email"`
	}{{Email: attendeeEmail}}

	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/calendars/%s/events", g.baseURL, g.calendarID), jsonReader(body))
	if err != nil {
		return "", apperrors.BookingFailed(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", apperrors.BookingFailed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return "", apperrors.SlotTaken()
	}
	if resp.StatusCode >= 400 {
		return "", apperrors.BookingFailed(fmt.Errorf("calendar create event returned status %d", resp.StatusCode))
	}

	var parsed eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperrors.BookingFailed(err)
	}
	return parsed.ID, nil
}
