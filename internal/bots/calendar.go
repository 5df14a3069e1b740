package bots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assistant/internal/providers"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// CalendarProvider lists calendar events for a time window.
type CalendarProvider interface {
	EventsBetween(ctx context.Context, accessToken string, from, to time.Time) ([]providers.Event, error)
}

// CalendarBot sends the daily schedule digest.
type CalendarBot struct {
	store    Store
	notifier Notifier
	calendar CalendarProvider
	loc      *time.Location
	log      logx.Logger
}

func NewCalendarBot(store Store, notifier Notifier, calendar CalendarProvider, loc *time.Location, log logx.Logger) *CalendarBot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &CalendarBot{store: store, notifier: notifier, calendar: calendar, loc: loc, log: log}
}

func (b *CalendarBot) Run(ctx context.Context) error {
	user, err := b.store.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("calendar: load user: %w", err)
	}
	if len(b.notifier.AvailableChannels(user)) == 0 {
		b.log.Info("calendar digest skipped, no channel linked")
		return b.store.AppendLog(ctx, KindCalendar, storage.StatusSkip, "no notification channel linked")
	}
	if user.GoogleAccessToken == "" {
		b.log.Info("calendar digest skipped, google account not linked")
		return b.store.AppendLog(ctx, KindCalendar, storage.StatusSkip, "google calendar not linked")
	}

	now := time.Now().In(b.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.loc)
	events, err := b.calendar.EventsBetween(ctx, user.GoogleAccessToken, from, from.AddDate(0, 0, 1))
	if err != nil {
		if lerr := b.store.AppendLog(ctx, KindCalendar, storage.StatusFail, "calendar fetch failed: "+err.Error()); lerr != nil {
			b.log.Warn("activity log append failed", logx.Err(lerr))
		}
		return fmt.Errorf("calendar: fetch: %w", err)
	}

	out := b.notifier.Send(ctx, user, formatEvents(from, events, b.loc))
	status := storage.StatusFail
	if out.Success {
		status = storage.StatusSuccess
	}
	return b.store.AppendLog(ctx, KindCalendar, status, out.Summary)
}

func formatEvents(day time.Time, events []providers.Event, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Schedule — %s</b>", day.Format("2006-01-02"))
	if len(events) == 0 {
		sb.WriteString("\nNo events today.")
		return sb.String()
	}
	for _, ev := range events {
		if ev.AllDay {
			fmt.Fprintf(&sb, "\n• all day  %s", ev.Title)
		} else {
			fmt.Fprintf(&sb, "\n• %s  %s", ev.Start.In(loc).Format("15:04"), ev.Title)
		}
	}
	return sb.String()
}
