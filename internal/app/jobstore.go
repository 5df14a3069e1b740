package app

import (
	"context"
	"encoding/json"
	"fmt"

	"assistant/internal/scheduler"
	"assistant/internal/storage"
)

// jobStore adapts the SQLite job table to the scheduler's JobStore
// interface, translating between the sparse persisted record and the
// in-memory trigger/payload forms.
type jobStore struct {
	s *storage.Store
}

func (js jobStore) LoadJobs(ctx context.Context) ([]scheduler.Job, error) {
	recs, err := js.s.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]scheduler.Job, 0, len(recs))
	for _, r := range recs {
		j, err := recordToJob(r)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", r.ID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (js jobStore) SaveJob(ctx context.Context, j scheduler.Job) error {
	r, err := jobToRecord(j)
	if err != nil {
		return err
	}
	return js.s.SaveJob(ctx, r)
}

func (js jobStore) DeleteJob(ctx context.Context, id string) error {
	return js.s.DeleteJob(ctx, id)
}

func (js jobStore) SetJobPaused(ctx context.Context, id string, paused bool) error {
	return js.s.SetJobPaused(ctx, id, paused)
}

func recordToJob(r storage.JobRecord) (scheduler.Job, error) {
	var trig scheduler.Trigger
	switch r.TriggerKind {
	case "cron":
		trig = scheduler.Cron(r.Hour, r.Minute)
	case "interval":
		trig = scheduler.Interval(r.EveryMinutes)
	case "date":
		trig = scheduler.Date(r.RunAt)
	default:
		return scheduler.Job{}, fmt.Errorf("unknown trigger kind %q", r.TriggerKind)
	}

	p := scheduler.Payload{Kind: r.PayloadKind}
	if r.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(r.PayloadJSON), &p); err != nil {
			return scheduler.Job{}, fmt.Errorf("payload decode: %w", err)
		}
	}
	if p.Kind == "" {
		p.Kind = r.PayloadKind
	}
	return scheduler.Job{ID: r.ID, Trigger: trig, Payload: p, Paused: r.Paused}, nil
}

func jobToRecord(j scheduler.Job) (storage.JobRecord, error) {
	pb, err := json.Marshal(j.Payload)
	if err != nil {
		return storage.JobRecord{}, fmt.Errorf("payload encode: %w", err)
	}
	return storage.JobRecord{
		ID:           j.ID,
		TriggerKind:  j.Trigger.Kind.String(),
		Hour:         j.Trigger.Hour,
		Minute:       j.Trigger.Minute,
		EveryMinutes: j.Trigger.EveryMinutes,
		RunAt:        j.Trigger.RunAt,
		PayloadKind:  j.Payload.Kind,
		PayloadJSON:  string(pb),
		Paused:       j.Paused,
	}, nil
}
