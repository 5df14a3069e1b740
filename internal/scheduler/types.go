package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "assistant/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone       string // IANA TZ, e.g. "Asia/Seoul"
	Workers        int
	QueueSize      int
	MaxInstances   int // max concurrent executions per job id
	DefaultTimeout time.Duration
}

var (
	// ErrJobExists is returned by Add* when the id is taken and replace is false.
	ErrJobExists = errors.New("scheduler: job id already registered")
	// ErrUnknownRunner is returned when a payload kind has no registered runner.
	ErrUnknownRunner = errors.New("scheduler: no runner registered for payload kind")
)

// Payload is the tagged work description a job carries. Kind selects the
// runner; the remaining fields are that runner's typed parameters.
type Payload struct {
	Kind       string `json:"kind"`
	ReminderID int64  `json:"reminder_id,omitempty"`
	Market     string `json:"market,omitempty"`
}

// Runner executes one fire of a job. Well-behaved runners handle their own
// domain failures and return nil; a returned error (or panic) is logged and
// the engine continues.
type Runner func(ctx context.Context, p Payload) error

// Job is one registered scheduled job.
type Job struct {
	ID      string
	Trigger Trigger
	Payload Payload
	Paused  bool
}

// JobInfo is the read-only listing form of a job.
type JobInfo struct {
	ID      string
	Trigger string
	Paused  bool
	// NextRun is nil while the job is paused.
	NextRun *time.Time
}

// JobStore persists the job set across restarts.
type JobStore interface {
	LoadJobs(ctx context.Context) ([]Job, error)
	SaveJob(ctx context.Context, j Job) error
	DeleteJob(ctx context.Context, id string) error
	SetJobPaused(ctx context.Context, id string, paused bool) error
}

type jobEntry struct {
	job     Job
	entryID cron.EntryID // non-zero while armed on the cron engine
	timer   *time.Timer  // non-nil while a date trigger is armed
	// ver invalidates stale timer callbacks after replace/remove.
	ver uint64
}

type task struct {
	jobID   string
	payload Payload
	timeout time.Duration
}

// Service owns the persistent job set and the execution engine.
// All mutation operations are safe to call concurrently with the
// dispatch loop.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	store JobStore

	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*jobEntry
	loaded bool

	runners map[string]Runner

	queue    chan task
	stopCh   chan struct{}
	workerWG sync.WaitGroup

	// active counts queued + in-flight executions per job id (instance cap).
	amu    sync.Mutex
	active map[string]int
}
