package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "assistant/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	defer s.releaseActive(t.jobID)

	start := time.Now()

	s.mu.Lock()
	runner := s.runners[t.payload.Kind]
	s.mu.Unlock()
	if runner == nil {
		s.log.Error("job fire dropped",
			logx.String("job", t.jobID),
			logx.String("kind", t.payload.Kind),
			logx.Err(ErrUnknownRunner))
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	err := s.run(runCtx, runner, t.payload)
	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed", logx.String("job", t.jobID), logx.Err(err), logx.Duration("dur", dur))
		return
	}
	s.log.Debug("job completed", logx.String("job", t.jobID), logx.Duration("dur", dur))
}

// run invokes the runner with a panic guard. A panicking callback must not
// take down the worker or the dispatch loop.
func (s *Service) run(ctx context.Context, runner Runner, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			s.log.Error("panic in job runner",
				logx.String("kind", p.Kind),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return runner(ctx, p)
}
