package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "assistant/pkg/logx"
)

func New(cfg Config, store JobStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 3
	}
	s := &Service{
		log:     log,
		cfg:     cfg,
		store:   store,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:    map[string]*jobEntry{},
		runners: map[string]Runner{},
		active:  map[string]int{},
	}
	s.loc = s.loadLocation()
	return s
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// RegisterRunner binds a payload kind to its executor. Registering the same
// kind twice replaces the previous runner.
func (s *Service) RegisterRunner(kind string, r Runner) {
	s.mu.Lock()
	s.runners[kind] = r
	s.mu.Unlock()
}

// Start loads the persisted job set (first call only), arms every
// non-paused job and begins processing. It is idempotent. A job-store
// failure fails Start loudly: partial operation is worse than none.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}

	if !s.loaded {
		jobs, err := s.store.LoadJobs(ctx)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			j := j
			s.jobs[j.ID] = &jobEntry{job: j}
		}
		s.loaded = true
	}

	s.queue = make(chan task, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	for _, e := range s.jobs {
		if !e.job.Paused {
			s.armLocked(e)
		}
	}

	stopCh := s.stopCh
	queue := s.queue
	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(ctx, stopCh, queue, idx)
		}()
	}
	s.c.Start()

	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.String("tz", s.loc.String()),
		logx.Int("jobs", len(s.jobs)))
	return nil
}

// Shutdown stops processing. In-flight executions are allowed to finish
// (bounded by ctx); future fires are prevented. The persisted job set is
// untouched, so a later Start resumes where we left off.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	for _, e := range s.jobs {
		if e.timer != nil {
			_ = e.timer.Stop()
			e.timer = nil
		}
		e.entryID = 0
		e.ver++
	}
	stopCh := s.stopCh
	s.stopCh = nil
	s.queue = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// workers finish in the background
	}
	s.log.Info("scheduler stopped")
}

// IsRunning reports the process-wide lifecycle state, independent of
// whether any job currently has work to do.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// armLocked attaches a job's trigger to the engine. Call with s.mu held
// while the scheduler is running.
func (s *Service) armLocked(e *jobEntry) {
	switch e.job.Trigger.Kind {
	case TriggerCron, TriggerInterval:
		if s.c == nil {
			return
		}
		id := e.job.ID
		eid, err := s.c.AddFunc(e.job.Trigger.cronSpec(), func() {
			s.enqueueJob(id)
		})
		if err != nil {
			// Validate() runs before registration, so this is unexpected.
			s.log.Error("cron arm failed", logx.String("job", id), logx.Err(err))
			return
		}
		e.entryID = eid
	case TriggerDate:
		id := e.job.ID
		e.ver++
		ver := e.ver
		delay := time.Until(e.job.Trigger.RunAt)
		if delay < 0 {
			delay = 0
		}
		e.timer = time.AfterFunc(delay, func() {
			s.fireDateJob(id, ver)
		})
	}
}

// disarmLocked detaches a job from the engine and invalidates any pending
// timer callback. Call with s.mu held.
func (s *Service) disarmLocked(e *jobEntry) {
	if e.entryID != 0 && s.c != nil {
		s.c.Remove(e.entryID)
	}
	e.entryID = 0
	if e.timer != nil {
		_ = e.timer.Stop()
		e.timer = nil
	}
	e.ver++
}

// fireDateJob handles a date trigger firing: the job is removed from the
// set and the store before the task runs, so a replace/remove that raced
// the timer is never executed twice.
func (s *Service) fireDateJob(id string, ver uint64) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.ver != ver {
		s.mu.Unlock()
		return
	}
	t := task{jobID: id, payload: e.job.Payload, timeout: s.cfg.DefaultTimeout}
	delete(s.jobs, id)
	queue := s.queue
	s.mu.Unlock()

	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.store.DeleteJob(dctx, id); err != nil {
		s.log.Warn("one-shot job cleanup failed", logx.String("job", id), logx.Err(err))
	}
	cancel()

	s.push(queue, t)
}

// enqueueJob is the cron-engine callback for repeating jobs. The payload is
// re-read so a replace that raced the fire uses the current definition.
func (s *Service) enqueueJob(id string) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.job.Paused {
		s.mu.Unlock()
		return
	}
	t := task{jobID: id, payload: e.job.Payload, timeout: s.cfg.DefaultTimeout}
	queue := s.queue
	s.mu.Unlock()

	s.push(queue, t)
}

// push applies the per-job instance cap and hands the task to the worker
// pool. Excess fires beyond the cap are dropped, not queued: a job whose
// execution outlives its own schedule should not pile up.
func (s *Service) push(queue chan task, t task) {
	if queue == nil {
		s.log.Debug("scheduler not running; dropping fire", logx.String("job", t.jobID))
		return
	}

	s.amu.Lock()
	if s.active[t.jobID] >= s.cfg.MaxInstances {
		s.amu.Unlock()
		s.log.Warn("instance cap reached; dropping fire",
			logx.String("job", t.jobID), logx.Int("cap", s.cfg.MaxInstances))
		return
	}
	s.active[t.jobID]++
	s.amu.Unlock()

	select {
	case queue <- t:
	default:
		s.releaseActive(t.jobID)
		s.log.Warn("scheduler queue full; dropping fire",
			logx.String("job", t.jobID), logx.Int("queue_cap", cap(queue)))
	}
}

func (s *Service) releaseActive(id string) {
	s.amu.Lock()
	s.active[id]--
	if s.active[id] <= 0 {
		delete(s.active, id)
	}
	s.amu.Unlock()
}
