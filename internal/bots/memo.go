package bots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assistant/internal/scheduler"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// MemoBot manages one-shot reminders: it persists them, registers their
// date jobs, and delivers them when the scheduler fires.
type MemoBot struct {
	store    Store
	notifier Notifier
	sched    JobScheduler
	log      logx.Logger

	// now is swapped out in tests that pin the restore cutoff.
	now func() time.Time
}

func NewMemoBot(store Store, notifier Notifier, sched JobScheduler, log logx.Logger) *MemoBot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MemoBot{store: store, notifier: notifier, sched: sched, log: log, now: time.Now}
}

// ReminderJobID is the fixed job id for one reminder.
func ReminderJobID(id int64) string {
	return fmt.Sprintf("reminder_%d", id)
}

// Schedule persists a reminder and registers its delivery job.
func (b *MemoBot) Schedule(ctx context.Context, message string, targetAt time.Time) (storage.Reminder, error) {
	rem, err := b.store.CreateReminder(ctx, message, targetAt)
	if err != nil {
		return storage.Reminder{}, fmt.Errorf("memo: create reminder: %w", err)
	}
	p := scheduler.Payload{Kind: KindReminder, ReminderID: rem.ID}
	if err := b.sched.AddDateJob(ctx, ReminderJobID(rem.ID), targetAt, p, true); err != nil {
		// Keep stores consistent: a reminder without a job would never fire.
		if derr := b.store.DeleteReminder(ctx, rem.ID); derr != nil {
			b.log.Warn("orphan reminder cleanup failed", logx.Int64("reminder", rem.ID), logx.Err(derr))
		}
		return storage.Reminder{}, fmt.Errorf("memo: register job: %w", err)
	}
	if err := b.store.AppendLog(ctx, KindReminder, storage.StatusCreate,
		fmt.Sprintf("reminder %d scheduled for %s", rem.ID, targetAt.Format(time.RFC3339))); err != nil {
		b.log.Warn("activity log append failed", logx.Err(err))
	}
	return rem, nil
}

// Cancel removes a reminder and its pending job. An already-fired job is
// not an error; the reminder row is still deleted.
func (b *MemoBot) Cancel(ctx context.Context, id int64) error {
	b.sched.RemoveJob(ctx, ReminderJobID(id))
	if err := b.store.DeleteReminder(ctx, id); err != nil {
		return fmt.Errorf("memo: delete reminder: %w", err)
	}
	if err := b.store.AppendLog(ctx, KindReminder, storage.StatusDelete,
		fmt.Sprintf("reminder %d cancelled", id)); err != nil {
		b.log.Warn("activity log append failed", logx.Err(err))
	}
	return nil
}

// Run delivers one reminder. It is the runner behind the reminder payload
// kind; the reminder is marked sent only after a successful dispatch so a
// failed delivery stays pending for the next restore.
func (b *MemoBot) Run(ctx context.Context, reminderID int64) error {
	rem, err := b.store.GetReminder(ctx, reminderID)
	if errors.Is(err, storage.ErrNotFound) {
		b.log.Warn("reminder fired but row is gone", logx.Int64("reminder", reminderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("memo: load reminder: %w", err)
	}
	if rem.Sent {
		return nil
	}

	user, err := b.store.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("memo: load user: %w", err)
	}
	if len(b.notifier.AvailableChannels(user)) == 0 {
		b.log.Info("reminder delivery skipped, no channel linked", logx.Int64("reminder", reminderID))
		return b.store.AppendLog(ctx, KindReminder, storage.StatusSkip, "no notification channel linked")
	}

	out := b.notifier.Send(ctx, user, "<b>Reminder</b>\n"+rem.Message)
	if !out.Success {
		if err := b.store.AppendLog(ctx, KindReminder, storage.StatusFail, out.Summary); err != nil {
			b.log.Warn("activity log append failed", logx.Err(err))
		}
		return fmt.Errorf("memo: reminder %d delivery failed", reminderID)
	}
	if err := b.store.MarkReminderSent(ctx, reminderID, true); err != nil {
		b.log.Warn("mark sent failed", logx.Int64("reminder", reminderID), logx.Err(err))
	}
	return b.store.AppendLog(ctx, KindReminder, storage.StatusSuccess, out.Summary)
}

// RestorePending re-registers delivery jobs for unsent reminders after a
// restart. Reminders whose target time already passed are skipped with an
// activity-log entry; reminders whose job survived in the job store are
// left alone. Returns the number of jobs (re)registered.
func (b *MemoBot) RestorePending(ctx context.Context) (int, error) {
	pending, err := b.store.ListPendingReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("memo: list pending: %w", err)
	}

	now := b.now()
	restored := 0
	for _, rem := range pending {
		// A target exactly at the cutoff has already passed; only strictly
		// future reminders get a job.
		if !rem.TargetAt.After(now) {
			b.log.Info("expired reminder skipped",
				logx.Int64("reminder", rem.ID),
				logx.Time("target", rem.TargetAt))
			if err := b.store.AppendLog(ctx, KindReminder, storage.StatusSkip,
				fmt.Sprintf("reminder %d expired at %s, not restored", rem.ID, rem.TargetAt.Format(time.RFC3339))); err != nil {
				b.log.Warn("activity log append failed", logx.Err(err))
			}
			continue
		}
		id := ReminderJobID(rem.ID)
		if _, ok := b.sched.GetJob(id); ok {
			continue
		}
		p := scheduler.Payload{Kind: KindReminder, ReminderID: rem.ID}
		if err := b.sched.AddDateJob(ctx, id, rem.TargetAt, p, false); err != nil {
			if errors.Is(err, scheduler.ErrJobExists) {
				continue
			}
			b.log.Error("reminder restore failed", logx.Int64("reminder", rem.ID), logx.Err(err))
			continue
		}
		restored++
	}

	b.log.Info("pending reminders restored",
		logx.Int("pending", len(pending)),
		logx.Int("restored", restored))
	return restored, nil
}
