package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Activity log status tags. The web layer and bots share this vocabulary.
const (
	StatusSuccess = "SUCCESS"
	StatusFail    = "FAIL"
	StatusSkip    = "SKIP"
	StatusCreate  = "CREATE"
	StatusDelete  = "DELETE"
)

// User is the single managed user: channel identifiers and provider tokens.
// A channel is linked when its identifier/credential is non-empty.
type User struct {
	ID                 int64
	KakaoAccessToken   string
	KakaoRefreshToken  string
	GoogleAccessToken  string
	GoogleRefreshToken string
	TelegramChatID     string
	UpdatedAt          time.Time
}

// Setting configures one notification category ("weather", "finance", "calendar").
type Setting struct {
	ID               int64
	Category         string
	NotificationTime string // "HH:MM"
	ConfigJSON       string // optional category-specific config
	IsActive         bool
}

// Reminder is a queued one-shot memo.
type Reminder struct {
	ID        int64
	Message   string
	TargetAt  time.Time
	Sent      bool
	CreatedAt time.Time
}

// PriceAlert triggers a notification when a symbol crosses a threshold.
type PriceAlert struct {
	ID        int64
	Symbol    string
	Threshold float64
	Above     bool // true: trigger when price >= threshold
	Active    bool
}

// LogEntry is one activity-log line (dispatch outcomes, job transitions).
type LogEntry struct {
	ID       int64
	At       time.Time
	Category string
	Status   string
	Message  string
}

// JobRecord is the durable form of a scheduled job. Trigger fields are
// sparse by kind: cron uses hour/minute, interval uses every_minutes,
// date uses run_at.
type JobRecord struct {
	ID           string
	TriggerKind  string // "cron", "interval", "date"
	Hour         int
	Minute       int
	EveryMinutes int
	RunAt        time.Time
	PayloadKind  string
	PayloadJSON  string
	Paused       bool
}
