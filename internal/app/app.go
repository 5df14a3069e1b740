// Package app assembles the assistant: configuration, storage, delivery
// channels, providers, bots, the scheduler, and the management API.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"assistant/internal/bots"
	"assistant/internal/config"
	"assistant/internal/notify"
	"assistant/internal/orchestrator"
	"assistant/internal/providers"
	"assistant/internal/scheduler"
	"assistant/internal/storage"
	"assistant/internal/web"
	logx "assistant/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	log    logx.Logger

	store *storage.Store
	sched *scheduler.Service
	memo  *bots.MemoBot
	orch  *orchestrator.Orchestrator
	web   *web.Server
}

// New builds the full object graph from the config file. Nothing is
// started yet; Run owns the lifecycle.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	defaultTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 30*time.Second)
	if err != nil {
		store.Close()
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Timezone:       cfg.Timezone,
		Workers:        cfg.Scheduler.Workers,
		QueueSize:      cfg.Scheduler.QueueSize,
		MaxInstances:   cfg.Scheduler.MaxInstances,
		DefaultTimeout: defaultTimeout,
	}, jobStore{s: store}, log.With(logx.String("comp", "scheduler")))

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn("invalid timezone; calendar digest uses local time",
			logx.String("tz", cfg.Timezone), logx.Err(err))
		loc = time.Local
	}

	weatherBot := bots.NewWeatherBot(store, dispatcher,
		providers.NewOpenWeather(cfg.Providers.Weather.APIKey, ""),
		cfg.Providers.Weather.City,
		log.With(logx.String("comp", "weather")))
	financeBot := bots.NewFinanceBot(store, dispatcher,
		providers.NewQuoteClient(cfg.Providers.Market.APIBase),
		log.With(logx.String("comp", "finance")))
	calendarBot := bots.NewCalendarBot(store, dispatcher,
		providers.NewGoogleCalendar(cfg.Providers.Calendar.APIBase),
		loc,
		log.With(logx.String("comp", "calendar")))
	memoBot := bots.NewMemoBot(store, dispatcher, sched,
		log.With(logx.String("comp", "memo")))

	sched.RegisterRunner(bots.KindWeather, func(ctx context.Context, _ scheduler.Payload) error {
		return weatherBot.Run(ctx)
	})
	sched.RegisterRunner(bots.KindFinance, func(ctx context.Context, p scheduler.Payload) error {
		return financeBot.Run(ctx, p.Market)
	})
	sched.RegisterRunner(bots.KindCalendar, func(ctx context.Context, _ scheduler.Payload) error {
		return calendarBot.Run(ctx)
	})
	sched.RegisterRunner(bots.KindReminder, func(ctx context.Context, p scheduler.Payload) error {
		return memoBot.Run(ctx, p.ReminderID)
	})
	sched.RegisterRunner(bots.KindPriceAlerts, func(ctx context.Context, _ scheduler.Payload) error {
		return financeBot.CheckPriceAlerts(ctx)
	})

	orch := orchestrator.New(store, sched, log.With(logx.String("comp", "orchestrator")))

	var srv *web.Server
	if cfg.HTTP.Enabled {
		srv = web.NewServer(web.Config{Addr: cfg.HTTP.Addr}, sched, store, memoBot, orch,
			log.With(logx.String("comp", "web")))
	}

	return &App{
		cfgMgr: mgr,
		log:    log,
		store:  store,
		sched:  sched,
		memo:   memoBot,
		orch:   orch,
		web:    srv,
	}, nil
}

func buildDispatcher(cfg *config.Config, log logx.Logger) (*notify.Dispatcher, error) {
	var senders []notify.Sender

	if strings.TrimSpace(cfg.Notify.Telegram.Token) != "" {
		pollTimeout, err := config.ParseDurationOrDefault("notify.telegram.poll_timeout", cfg.Notify.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := notify.NewTelegramSender(notify.TelegramConfig{
			Token:       cfg.Notify.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram sender: %w", err)
		}
		senders = append(senders, tg)
	} else {
		log.Warn("telegram token missing; telegram channel disabled")
	}

	senders = append(senders, notify.NewKakaoSender(notify.KakaoConfig{
		APIBase: cfg.Notify.Kakao.APIBase,
	}, log.With(logx.String("comp", "kakao"))))

	return notify.NewDispatcher(notify.DispatcherConfig{RatePerSec: cfg.Notify.RatePerSec},
		log.With(logx.String("comp", "dispatch")), senders...), nil
}

// Run starts everything in dependency order, blocks until ctx is
// cancelled, then shuts down in reverse.
func (a *App) Run(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// Restore before the orchestrator and the API come up so no pending
	// reminder is observable as missing.
	if n, err := a.memo.RestorePending(ctx); err != nil {
		a.log.Error("reminder restoration failed", logx.Err(err))
	} else if n > 0 {
		a.log.Info("reminders restored", logx.Int("count", n))
	}

	if err := a.orch.SetupAll(ctx); err != nil {
		a.log.Error("recurring job setup incomplete", logx.Err(err))
	}

	webErr := make(chan error, 1)
	if a.web != nil {
		go func() { webErr <- a.web.Start() }()
	}

	a.cfgMgr.SetOnChange(func(cfg *config.Config) {
		logx.SetGlobalLevel(cfg.Logging.Level)
		if err := a.orch.SetupAll(ctx); err != nil {
			a.log.Warn("recurring job reconverge failed", logx.Err(err))
		}
	})
	go func() {
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}
	a.log.Info("assistant started")

	select {
	case <-ctx.Done():
	case err := <-webErr:
		if err != nil {
			a.log.Error("management api failed", logx.Err(err))
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.web != nil {
		if err := a.web.Shutdown(sctx); err != nil {
			a.log.Warn("web shutdown error", logx.Err(err))
		}
	}
	a.sched.Shutdown(sctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close error", logx.Err(err))
	}
	a.log.Info("assistant stopped")
	_ = a.log.Close()
}
