package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "assistant/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "assistant.db"),
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUserCreatedOnFirstAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	u, err := st.GetUser(ctx)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("user row not created")
	}

	u.TelegramChatID = "123456"
	u.KakaoAccessToken = "kakao-token"
	if err := st.SaveUser(ctx, u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	got, err := st.GetUser(ctx)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("second access created a new row: %d != %d", got.ID, u.ID)
	}
	if got.TelegramChatID != "123456" || got.KakaoAccessToken != "kakao-token" {
		t.Fatalf("user roundtrip = %+v", got)
	}
}

func TestSettingUpsertAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.GetSetting(ctx, "weather"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing setting = %v, want ErrNotFound", err)
	}

	err := st.UpsertSetting(ctx, Setting{
		Category:         "weather",
		NotificationTime: "06:30",
		IsActive:         true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.GetSetting(ctx, "weather")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NotificationTime != "06:30" || !got.IsActive {
		t.Fatalf("setting = %+v", got)
	}

	err = st.UpsertSetting(ctx, Setting{
		Category:         "weather",
		NotificationTime: "07:15",
		ConfigJSON:       `{"city":"Seoul"}`,
		IsActive:         false,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = st.GetSetting(ctx, "weather")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NotificationTime != "07:15" || got.IsActive || got.ConfigJSON != `{"city":"Seoul"}` {
		t.Fatalf("updated setting = %+v", got)
	}
}

func TestReminderLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now().Truncate(time.Second)
	later := createReminder(t, ctx, st, "later", now.Add(2*time.Hour))
	soon := createReminder(t, ctx, st, "soon", now.Add(time.Hour))
	done := createReminder(t, ctx, st, "done", now.Add(3*time.Hour))

	if err := st.MarkReminderSent(ctx, done.ID, true); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	pending, err := st.ListPendingReminders(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ID != soon.ID || pending[1].ID != later.ID {
		t.Fatalf("pending order = %d,%d, want soonest first", pending[0].ID, pending[1].ID)
	}
	if !pending[0].TargetAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("target roundtrip = %v", pending[0].TargetAt)
	}

	if err := st.DeleteReminder(ctx, soon.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetReminder(ctx, soon.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted reminder = %v, want ErrNotFound", err)
	}
}

func createReminder(t *testing.T, ctx context.Context, s *Store, msg string, at time.Time) Reminder {
	t.Helper()
	r, err := s.CreateReminder(ctx, msg, at)
	if err != nil {
		t.Fatalf("create reminder %q: %v", msg, err)
	}
	return r
}

func TestPriceAlertLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	id, err := st.CreateAlert(ctx, PriceAlert{Symbol: "AAPL", Threshold: 200, Above: true})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}

	alerts, err := st.ListActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Symbol != "AAPL" || !alerts[0].Above {
		t.Fatalf("alerts = %+v", alerts)
	}

	if err := st.DeactivateAlert(ctx, id); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	alerts, err = st.ListActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("deactivated alert still listed: %+v", alerts)
	}
}

func TestJobRecordRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	runAt := time.Now().Add(time.Hour).Truncate(time.Second)
	jobs := []JobRecord{
		{ID: "weather_daily", TriggerKind: "cron", Hour: 6, Minute: 30, PayloadKind: "weather", PayloadJSON: `{"kind":"weather"}`},
		{ID: "price_alerts_check", TriggerKind: "interval", EveryMinutes: 5, PayloadKind: "price_alerts", PayloadJSON: `{"kind":"price_alerts"}`},
		{ID: "reminder_7", TriggerKind: "date", RunAt: runAt, PayloadKind: "reminder", PayloadJSON: `{"kind":"reminder","reminder_id":7}`},
	}
	for _, j := range jobs {
		if err := st.SaveJob(ctx, j); err != nil {
			t.Fatalf("save %s: %v", j.ID, err)
		}
	}

	got, err := st.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("loaded %d jobs, want 3", len(got))
	}
	byID := map[string]JobRecord{}
	for _, j := range got {
		byID[j.ID] = j
	}
	if j := byID["weather_daily"]; j.Hour != 6 || j.Minute != 30 || j.TriggerKind != "cron" {
		t.Fatalf("cron job = %+v", j)
	}
	if j := byID["price_alerts_check"]; j.EveryMinutes != 5 {
		t.Fatalf("interval job = %+v", j)
	}
	if j := byID["reminder_7"]; !j.RunAt.Equal(runAt) || j.PayloadJSON == "" {
		t.Fatalf("date job = %+v", j)
	}

	// Upsert re-times the cron job in place.
	if err := st.SaveJob(ctx, JobRecord{ID: "weather_daily", TriggerKind: "cron", Hour: 7, Minute: 0, PayloadKind: "weather"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.SetJobPaused(ctx, "weather_daily", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, err = st.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, j := range got {
		if j.ID == "weather_daily" {
			if j.Hour != 7 || j.Minute != 0 || !j.Paused {
				t.Fatalf("updated job = %+v", j)
			}
		}
	}

	if err := st.DeleteJob(ctx, "reminder_7"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = st.LoadJobs(ctx)
	if len(got) != 2 {
		t.Fatalf("after delete %d jobs, want 2", len(got))
	}
}
