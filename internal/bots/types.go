package bots

import (
	"context"
	"time"

	"assistant/internal/notify"
	"assistant/internal/scheduler"
	"assistant/internal/storage"
)

// Payload kinds the bots register runners for. The orchestrator and web
// layer use the same tags when creating jobs.
const (
	KindWeather     = "weather"
	KindFinance     = "finance"
	KindCalendar    = "calendar"
	KindReminder    = "reminder"
	KindPriceAlerts = "price_alerts"
)

// Market tags for the finance payload.
const (
	MarketUS = "us"
	MarketKR = "kr"
)

// Store is the slice of the storage layer the bots use. *storage.Store
// satisfies it; tests substitute in-memory fakes.
type Store interface {
	GetUser(ctx context.Context) (storage.User, error)
	AppendLog(ctx context.Context, category, status, message string) error

	CreateReminder(ctx context.Context, message string, targetAt time.Time) (storage.Reminder, error)
	GetReminder(ctx context.Context, id int64) (storage.Reminder, error)
	ListPendingReminders(ctx context.Context) ([]storage.Reminder, error)
	MarkReminderSent(ctx context.Context, id int64, sent bool) error
	DeleteReminder(ctx context.Context, id int64) error

	ListActiveAlerts(ctx context.Context) ([]storage.PriceAlert, error)
	DeactivateAlert(ctx context.Context, id int64) error
}

// Notifier is the delivery fan-out the bots dispatch through.
type Notifier interface {
	AvailableChannels(u storage.User) []string
	Send(ctx context.Context, u storage.User, text string) notify.Outcome
}

// JobScheduler is the slice of the scheduler the memo bot needs to manage
// one-shot reminder jobs.
type JobScheduler interface {
	AddDateJob(ctx context.Context, id string, runAt time.Time, p scheduler.Payload, replace bool) error
	RemoveJob(ctx context.Context, id string) bool
	GetJob(id string) (scheduler.JobInfo, bool)
}
