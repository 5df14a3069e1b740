package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultCalendarBase = "https://www.googleapis.com"

// Event is one calendar entry for the daily briefing.
type Event struct {
	Title  string
	Start  time.Time
	AllDay bool
}

// GoogleCalendar lists the primary calendar's events using the user's
// OAuth access token (token refresh is handled upstream of this client).
type GoogleCalendar struct {
	base string
	http *http.Client
}

func NewGoogleCalendar(base string) *GoogleCalendar {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultCalendarBase
	}
	return &GoogleCalendar{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// EventsBetween returns the events starting within [from, to), ordered by
// start time.
func (g *GoogleCalendar) EventsBetween(ctx context.Context, accessToken string, from, to time.Time) ([]Event, error) {
	q := url.Values{
		"timeMin":      {from.Format(time.RFC3339)},
		"timeMax":      {to.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.base+"/calendar/v3/calendars/primary/events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar api returned status %d", resp.StatusCode)
	}

	var body struct {
		Items []struct {
			Summary string `json:"summary"`
			Start   struct {
				DateTime string `json:"dateTime"`
				Date     string `json:"date"`
			} `json:"start"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("calendar response decode: %w", err)
	}

	res := make([]Event, 0, len(body.Items))
	for _, it := range body.Items {
		ev := Event{Title: it.Summary}
		switch {
		case it.Start.DateTime != "":
			t, err := time.Parse(time.RFC3339, it.Start.DateTime)
			if err != nil {
				continue
			}
			ev.Start = t
		case it.Start.Date != "":
			t, err := time.Parse("2006-01-02", it.Start.Date)
			if err != nil {
				continue
			}
			ev.Start = t
			ev.AllDay = true
		default:
			continue
		}
		res = append(res, ev)
	}
	return res, nil
}
