// Package orchestrator maps notification settings to recurring scheduler
// jobs under fixed ids. Setup is idempotent: it replaces the job when the
// setting is active and removes it when the setting is inactive or absent,
// so calling it again after any settings change converges the job set.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"assistant/internal/bots"
	"assistant/internal/scheduler"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// Fixed job ids for the recurring notifications.
const (
	JobWeatherDaily    = "weather_daily"
	JobFinanceUSDaily  = "finance_us_daily"
	JobFinanceKRDaily  = "finance_kr_daily"
	JobCalendarDaily   = "calendar_daily"
	JobPriceAlertCheck = "price_alerts_check"
)

const priceAlertIntervalMinutes = 5

// Default finance notification times when the setting config omits them.
const (
	defaultUSTime = "22:00"
	defaultKRTime = "09:00"
)

// SettingStore reads per-category notification settings.
type SettingStore interface {
	GetSetting(ctx context.Context, category string) (storage.Setting, error)
}

// Scheduler is the slice of the scheduling engine the orchestrator drives.
type Scheduler interface {
	AddCronJob(ctx context.Context, id string, hour, minute int, p scheduler.Payload, replace bool) error
	AddIntervalJob(ctx context.Context, id string, minutes int, p scheduler.Payload, replace bool) error
	RemoveJob(ctx context.Context, id string) bool
}

type Orchestrator struct {
	store SettingStore
	sched Scheduler
	log   logx.Logger
}

func New(store SettingStore, sched Scheduler, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{store: store, sched: sched, log: log}
}

// SetupAll converges every recurring job from the current settings and
// registers the price-alert poller. Individual category failures are
// logged and do not stop the others.
func (o *Orchestrator) SetupAll(ctx context.Context) error {
	var errs []error
	if err := o.SetupWeather(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.SetupFinance(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.SetupCalendar(ctx); err != nil {
		errs = append(errs, err)
	}
	p := scheduler.Payload{Kind: bots.KindPriceAlerts}
	if err := o.sched.AddIntervalJob(ctx, JobPriceAlertCheck, priceAlertIntervalMinutes, p, true); err != nil {
		errs = append(errs, fmt.Errorf("price alert job: %w", err))
	}
	return errors.Join(errs...)
}

// SetupWeather registers weather_daily from the weather setting.
func (o *Orchestrator) SetupWeather(ctx context.Context) error {
	return o.setupDaily(ctx, "weather", JobWeatherDaily, scheduler.Payload{Kind: bots.KindWeather})
}

// UpdateWeather re-converges after a settings change.
func (o *Orchestrator) UpdateWeather(ctx context.Context) error { return o.SetupWeather(ctx) }

// SetupFinance registers finance_us_daily and finance_kr_daily. The two
// times come from the finance setting's config JSON, falling back to the
// category defaults when absent.
func (o *Orchestrator) SetupFinance(ctx context.Context) error {
	st, err := o.store.GetSetting(ctx, "finance")
	if errors.Is(err, storage.ErrNotFound) {
		o.removeIfPresent(JobFinanceUSDaily)
		o.removeIfPresent(JobFinanceKRDaily)
		o.log.Info("finance jobs not configured")
		return nil
	}
	if err != nil {
		return fmt.Errorf("finance setting: %w", err)
	}
	if !st.IsActive {
		o.removeIfPresent(JobFinanceUSDaily)
		o.removeIfPresent(JobFinanceKRDaily)
		o.log.Info("finance notifications inactive, jobs removed")
		return nil
	}

	usTime, krTime := financeTimes(st)
	var errs []error
	if err := o.registerDaily(ctx, JobFinanceUSDaily, usTime,
		scheduler.Payload{Kind: bots.KindFinance, Market: bots.MarketUS}); err != nil {
		errs = append(errs, err)
	}
	if err := o.registerDaily(ctx, JobFinanceKRDaily, krTime,
		scheduler.Payload{Kind: bots.KindFinance, Market: bots.MarketKR}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UpdateFinance re-converges after a settings change.
func (o *Orchestrator) UpdateFinance(ctx context.Context) error { return o.SetupFinance(ctx) }

// SetupCalendar registers calendar_daily from the calendar setting.
func (o *Orchestrator) SetupCalendar(ctx context.Context) error {
	return o.setupDaily(ctx, "calendar", JobCalendarDaily, scheduler.Payload{Kind: bots.KindCalendar})
}

// UpdateCalendar re-converges after a settings change.
func (o *Orchestrator) UpdateCalendar(ctx context.Context) error { return o.SetupCalendar(ctx) }

// setupDaily is the shared single-job path: one setting, one cron job at
// the setting's notification time.
func (o *Orchestrator) setupDaily(ctx context.Context, category, jobID string, p scheduler.Payload) error {
	st, err := o.store.GetSetting(ctx, category)
	if errors.Is(err, storage.ErrNotFound) {
		o.removeIfPresent(jobID)
		o.log.Info("category not configured", logx.String("category", category))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s setting: %w", category, err)
	}
	if !st.IsActive {
		o.removeIfPresent(jobID)
		o.log.Info("category inactive, job removed", logx.String("category", category))
		return nil
	}

	return o.registerDaily(ctx, jobID, st.NotificationTime, p)
}

func (o *Orchestrator) registerDaily(ctx context.Context, jobID, hhmm string, p scheduler.Payload) error {
	hour, minute, err := ParseHHMM(hhmm)
	if err != nil {
		// A bad stored time must not take down startup; keep whatever job
		// was registered before and surface the problem in the log.
		o.log.Error("invalid notification time, job not updated",
			logx.String("job", jobID),
			logx.String("time", hhmm),
			logx.Err(err))
		return nil
	}
	if err := o.sched.AddCronJob(ctx, jobID, hour, minute, p, true); err != nil {
		return fmt.Errorf("register %s: %w", jobID, err)
	}
	o.log.Info("daily job converged",
		logx.String("job", jobID),
		logx.String("time", fmt.Sprintf("%02d:%02d", hour, minute)))
	return nil
}

func (o *Orchestrator) removeIfPresent(jobID string) {
	if o.sched.RemoveJob(context.Background(), jobID) {
		o.log.Info("job removed", logx.String("job", jobID))
	}
}

// financeTimes resolves the two market times for a finance setting. The
// US time prefers the config JSON, then the setting's own notification
// time, then the category default; the KR time has no per-setting field
// and falls back straight to its default.
func financeTimes(st storage.Setting) (us, kr string) {
	us, kr = defaultUSTime, defaultKRTime
	if strings.TrimSpace(st.NotificationTime) != "" {
		us = st.NotificationTime
	}
	if strings.TrimSpace(st.ConfigJSON) == "" {
		return us, kr
	}
	var cfg struct {
		USNotificationTime string `json:"us_notification_time"`
		KRNotificationTime string `json:"kr_notification_time"`
	}
	if err := json.Unmarshal([]byte(st.ConfigJSON), &cfg); err != nil {
		return us, kr
	}
	if strings.TrimSpace(cfg.USNotificationTime) != "" {
		us = cfg.USNotificationTime
	}
	if strings.TrimSpace(cfg.KRNotificationTime) != "" {
		kr = cfg.KRNotificationTime
	}
	return us, kr
}

// ParseHHMM parses "HH:MM" into hour and minute, rejecting out-of-range
// values.
func ParseHHMM(v string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time %q, want HH:MM", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed minute in %q", v)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", v)
	}
	return hour, minute, nil
}
