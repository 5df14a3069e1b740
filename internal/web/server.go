// Package web exposes the management HTTP API: scheduler inspection and
// control, manual test runs, and the activity log. It is a local admin
// surface, meant to be bound to loopback.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"assistant/internal/scheduler"
	"assistant/internal/storage"
	logx "assistant/pkg/logx"
)

// Scheduler is the engine surface the API drives.
type Scheduler interface {
	IsRunning() bool
	Jobs() []scheduler.JobInfo
	GetJob(id string) (scheduler.JobInfo, bool)
	RemoveJob(ctx context.Context, id string) bool
	PauseJob(ctx context.Context, id string) bool
	ResumeJob(ctx context.Context, id string) bool
	RunNow(id string) bool
	AddCronJob(ctx context.Context, id string, hour, minute int, p scheduler.Payload, replace bool) error
}

// Store is the persistence surface behind the API: the activity log, the
// reminder and alert rows, and the user and settings records.
type Store interface {
	ListLogs(ctx context.Context, limit int) ([]storage.LogEntry, error)
	ListPendingReminders(ctx context.Context) ([]storage.Reminder, error)
	GetReminder(ctx context.Context, id int64) (storage.Reminder, error)
	ListActiveAlerts(ctx context.Context) ([]storage.PriceAlert, error)
	CreateAlert(ctx context.Context, a storage.PriceAlert) (int64, error)
	DeactivateAlert(ctx context.Context, id int64) error
	GetUser(ctx context.Context) (storage.User, error)
	SaveUser(ctx context.Context, u storage.User) error
	GetSetting(ctx context.Context, category string) (storage.Setting, error)
	UpsertSetting(ctx context.Context, st storage.Setting) error
}

// Reminders creates and cancels one-shot reminders together with their
// delivery jobs.
type Reminders interface {
	Schedule(ctx context.Context, message string, targetAt time.Time) (storage.Reminder, error)
	Cancel(ctx context.Context, id int64) error
}

// Converger re-derives the recurring jobs after a settings write.
type Converger interface {
	UpdateWeather(ctx context.Context) error
	UpdateFinance(ctx context.Context) error
	UpdateCalendar(ctx context.Context) error
}

type Config struct {
	Addr string
}

type Server struct {
	cfg   Config
	e     *echo.Echo
	sched Scheduler
	store Store
	memo  Reminders
	orch  Converger
	log   logx.Logger
}

func NewServer(cfg Config, sched Scheduler, store Store, memo Reminders, orch Converger, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{cfg: cfg, e: e, sched: sched, store: store, memo: memo, orch: orch, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/health", s.handleHealth)

	api := s.e.Group("/api")
	api.GET("/scheduler/status", s.handleStatus)
	api.GET("/scheduler/jobs", s.handleListJobs)
	api.GET("/scheduler/jobs/:id", s.handleGetJob)
	api.DELETE("/scheduler/jobs/:id", s.handleRemoveJob)
	api.POST("/scheduler/jobs/:id/pause", s.handlePauseJob)
	api.POST("/scheduler/jobs/:id/resume", s.handleResumeJob)

	api.POST("/scheduler/jobs/weather", s.handleAddDaily("weather"))
	api.POST("/scheduler/jobs/finance/us", s.handleAddDaily("finance_us"))
	api.POST("/scheduler/jobs/finance/kr", s.handleAddDaily("finance_kr"))
	api.POST("/scheduler/jobs/calendar", s.handleAddDaily("calendar"))

	api.POST("/scheduler/test/:category", s.handleTestRun)
	api.GET("/logs", s.handleListLogs)

	api.GET("/reminders", s.handleListReminders)
	api.POST("/reminders", s.handleCreateReminder)
	api.DELETE("/reminders/:id", s.handleDeleteReminder)

	api.GET("/alerts", s.handleListAlerts)
	api.POST("/alerts", s.handleCreateAlert)
	api.DELETE("/alerts/:id", s.handleDeleteAlert)

	api.GET("/user", s.handleGetUser)
	api.PUT("/user", s.handleUpdateUser)

	api.GET("/settings/:category", s.handleGetSetting)
	api.PUT("/settings/:category", s.handleUpdateSetting)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("management api listening", logx.String("addr", s.cfg.Addr))
	err := s.e.Start(s.cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}
