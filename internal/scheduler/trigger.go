package scheduler

import (
	"fmt"
	"time"
)

type TriggerKind int

const (
	TriggerCron TriggerKind = iota
	TriggerInterval
	TriggerDate
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerCron:
		return "cron"
	case TriggerInterval:
		return "interval"
	case TriggerDate:
		return "date"
	default:
		return "unknown"
	}
}

// Trigger is a tagged union over the three supported trigger kinds.
// Fields are sparse by kind: Hour/Minute for cron, EveryMinutes for
// interval, RunAt for date.
type Trigger struct {
	Kind         TriggerKind
	Hour, Minute int
	EveryMinutes int
	RunAt        time.Time
}

// Cron fires every day at hour:minute in the scheduler's time zone.
func Cron(hour, minute int) Trigger {
	return Trigger{Kind: TriggerCron, Hour: hour, Minute: minute}
}

// Interval fires every `minutes` minutes.
func Interval(minutes int) Trigger {
	return Trigger{Kind: TriggerInterval, EveryMinutes: minutes}
}

// Date fires exactly once at runAt.
func Date(runAt time.Time) Trigger {
	return Trigger{Kind: TriggerDate, RunAt: runAt}
}

// Validate rejects out-of-range values loudly; nothing is clamped.
// A Date trigger in the past is valid: it fires at the next tick.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerCron:
		if t.Hour < 0 || t.Hour > 23 {
			return fmt.Errorf("hour %d out of range [0,23]", t.Hour)
		}
		if t.Minute < 0 || t.Minute > 59 {
			return fmt.Errorf("minute %d out of range [0,59]", t.Minute)
		}
		return nil
	case TriggerInterval:
		if t.EveryMinutes <= 0 {
			return fmt.Errorf("interval %d must be a positive number of minutes", t.EveryMinutes)
		}
		return nil
	case TriggerDate:
		if t.RunAt.IsZero() {
			return fmt.Errorf("date trigger requires a run time")
		}
		return nil
	default:
		return fmt.Errorf("unknown trigger kind %d", t.Kind)
	}
}

// Describe renders a compact human-readable form used by job listings:
// "cron[06:30]", "interval[5m]", "date[2026-01-02T15:04:05+09:00]".
func (t Trigger) Describe() string {
	switch t.Kind {
	case TriggerCron:
		return fmt.Sprintf("cron[%02d:%02d]", t.Hour, t.Minute)
	case TriggerInterval:
		return fmt.Sprintf("interval[%dm]", t.EveryMinutes)
	case TriggerDate:
		return fmt.Sprintf("date[%s]", t.RunAt.Format(time.RFC3339))
	default:
		return "unknown"
	}
}

// cronSpec returns the robfig/cron spec for repeating triggers.
func (t Trigger) cronSpec() string {
	switch t.Kind {
	case TriggerCron:
		return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
	case TriggerInterval:
		return fmt.Sprintf("@every %dm", t.EveryMinutes)
	default:
		return ""
	}
}

// next computes the trigger's next fire time after now, in loc.
// ok is false when the trigger will never fire again (spent date trigger).
func (t Trigger) next(now time.Time, s *Service) (next time.Time, ok bool) {
	switch t.Kind {
	case TriggerDate:
		return t.RunAt, true
	case TriggerCron, TriggerInterval:
		sched, err := s.parser.Parse(t.cronSpec())
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(now.In(s.loc)), true
	default:
		return time.Time{}, false
	}
}
