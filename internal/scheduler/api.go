package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	logx "assistant/pkg/logx"
)

// AddCronJob registers a job that fires every day at hour:minute in the
// scheduler's time zone. With replace=true an existing job under the same
// id is atomically replaced; with replace=false registration fails with
// ErrJobExists.
func (s *Service) AddCronJob(ctx context.Context, id string, hour, minute int, p Payload, replace bool) error {
	return s.add(ctx, Job{ID: id, Trigger: Cron(hour, minute), Payload: p}, replace)
}

// AddIntervalJob registers a job that fires every `minutes` minutes. The
// first fire is enqueued immediately on fresh registration.
func (s *Service) AddIntervalJob(ctx context.Context, id string, minutes int, p Payload, replace bool) error {
	return s.add(ctx, Job{ID: id, Trigger: Interval(minutes), Payload: p}, replace)
}

// AddDateJob registers a one-shot job. A runAt in the past is accepted and
// fires at the next processing tick; rejecting past times is caller policy.
func (s *Service) AddDateJob(ctx context.Context, id string, runAt time.Time, p Payload, replace bool) error {
	return s.add(ctx, Job{ID: id, Trigger: Date(runAt), Payload: p}, replace)
}

func (s *Service) add(ctx context.Context, j Job, replace bool) error {
	j.ID = strings.TrimSpace(j.ID)
	if j.ID == "" {
		return errors.New("scheduler: job id required")
	}
	if err := j.Trigger.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(j.Payload.Kind) == "" {
		return errors.New("scheduler: payload kind required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.jobs[j.ID]
	if exists && !replace {
		return ErrJobExists
	}

	// Persist before mutating memory so a store failure leaves the
	// registered set unchanged.
	if err := s.store.SaveJob(ctx, j); err != nil {
		return err
	}

	if exists {
		s.disarmLocked(old)
	}
	e := &jobEntry{job: j}
	s.jobs[j.ID] = e

	running := s.stopCh != nil
	if running && !j.Paused {
		s.armLocked(e)
	}

	s.log.Info("job registered",
		logx.String("job", j.ID),
		logx.String("trigger", j.Trigger.Describe()),
		logx.Bool("replaced", exists))

	// Interval jobs start right away; re-armed jobs loaded from the store
	// go through Start() and wait for their first interval instead.
	if running && !j.Paused && j.Trigger.Kind == TriggerInterval {
		s.push(s.queue, task{jobID: j.ID, payload: j.Payload, timeout: s.cfg.DefaultTimeout})
	}
	return nil
}

// RemoveJob unregisters a job. It returns true if a job existed and was
// removed, false if the id was unknown (not an error).
func (s *Service) RemoveJob(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.disarmLocked(e)
	delete(s.jobs, id)
	s.mu.Unlock()

	if err := s.store.DeleteJob(ctx, id); err != nil {
		s.log.Warn("job store delete failed", logx.String("job", id), logx.Err(err))
	}
	s.log.Info("job removed", logx.String("job", id))
	return true
}

// PauseJob disarms a job without removing it; its next run time becomes
// absent until ResumeJob. Same existence-boolean contract as RemoveJob.
func (s *Service) PauseJob(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if !e.job.Paused {
		s.disarmLocked(e)
		e.job.Paused = true
		if err := s.store.SetJobPaused(ctx, id, true); err != nil {
			s.log.Warn("job store pause failed", logx.String("job", id), logx.Err(err))
		}
	}
	s.mu.Unlock()
	s.log.Info("job paused", logx.String("job", id))
	return true
}

// ResumeJob recomputes the next run from the trigger spec and re-arms.
func (s *Service) ResumeJob(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if e.job.Paused {
		e.job.Paused = false
		if err := s.store.SetJobPaused(ctx, id, false); err != nil {
			s.log.Warn("job store resume failed", logx.String("job", id), logx.Err(err))
		}
		if s.stopCh != nil {
			s.armLocked(e)
		}
	}
	s.mu.Unlock()
	s.log.Info("job resumed", logx.String("job", id))
	return true
}

// GetJob is a read-only lookup; ok is false when the id is unknown.
func (s *Service) GetJob(id string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return s.infoLocked(e), true
}

// Jobs returns a stable snapshot of the registered set, sorted by id.
// Safe to call concurrently with scheduling activity.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		res = append(res, s.infoLocked(e))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// RunNow enqueues one immediate execution of a registered job, bypassing
// its trigger. Returns false when the id is unknown or the scheduler is
// stopped.
func (s *Service) RunNow(id string) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || s.queue == nil {
		s.mu.Unlock()
		return false
	}
	t := task{jobID: id, payload: e.job.Payload, timeout: s.cfg.DefaultTimeout}
	queue := s.queue
	s.mu.Unlock()

	s.push(queue, t)
	return true
}

func (s *Service) infoLocked(e *jobEntry) JobInfo {
	info := JobInfo{
		ID:      e.job.ID,
		Trigger: e.job.Trigger.Describe(),
		Paused:  e.job.Paused,
	}
	if !e.job.Paused {
		if next, ok := e.job.Trigger.next(time.Now(), s); ok {
			info.NextRun = &next
		}
	}
	return info
}
