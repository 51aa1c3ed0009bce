package core

import (
	"context"
	"fmt"
	"time"

	"guardbot/internal/activity"
	"guardbot/internal/ai"
	"guardbot/internal/auth"
	"guardbot/internal/backup"
	"guardbot/internal/broadcast"
	"guardbot/internal/config"
	"guardbot/internal/health"
	"guardbot/internal/memory"
	"guardbot/internal/metrics"
	"guardbot/internal/ratelimit"
	"guardbot/internal/runtime/supervisor"
	kit "guardbot/internal/transport"
	"guardbot/internal/transport/telegram"
	"guardbot/pkg/logx"
)

// App owns every long-lived component and their lifecycle ordering.
type App struct {
	cfgm   *config.Manager
	logsvc *logx.Service
	log    logx.Logger

	adapter  *telegram.Adapter
	auth     *auth.Store
	limiter  *ratelimit.Limiter
	conv     *memory.Conversation
	recorder activity.Recorder
	backups  *backup.Scheduler
	met      *metrics.Set
	health   *health.Server
	session  *Session

	sup     *supervisor.Supervisor
	updates chan kit.Update
}

func NewApp(cfgm *config.Manager, logsvc *logx.Service, log logx.Logger) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, fmt.Errorf("core: config not loaded")
	}

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	aiTimeout, err := config.ParseDurationField("ai.timeout", cfg.AI.Timeout)
	if err != nil {
		return nil, err
	}
	threshold, err := config.ParseDurationField("rate_limit.threshold", cfg.RateLimit.Threshold)
	if err != nil {
		return nil, err
	}
	backupInterval, err := config.ParseDurationField("backup.interval", cfg.Backup.Interval)
	if err != nil {
		return nil, err
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("core: telegram adapter: %w", err)
	}

	authStore, err := auth.New(cfg.Auth.Path, cfg.Telegram.AdminUserIDs,
		log.With(logx.String("comp", "auth")))
	if err != nil {
		return nil, err
	}

	recorder, err := activity.Open(activity.Config{
		Driver: cfg.Activity.Driver,
		Path:   cfg.Activity.Path,
	}, log.With(logx.String("comp", "activity")))
	if err != nil {
		return nil, err
	}

	activityDir := ""
	if recorder != nil {
		activityDir = recorder.Dir()
	}
	backups := backup.New(backup.Config{
		Dir:      cfg.Backup.Dir,
		Interval: backupInterval,
		Cron:     cfg.Backup.Cron,
	}, backup.Sources{
		AuthStorePath: authStore.Path(),
		ActivityDir:   activityDir,
	}, log.With(logx.String("comp", "backup")))

	met := metrics.New()

	dispatcher := broadcast.New(broadcast.Strategies(adapter), cfg.Broadcast.RatePerSec,
		log.With(logx.String("comp", "broadcast")))

	aiClient := ai.New(ai.Config{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
		Timeout: aiTimeout,
	}, log.With(logx.String("comp", "ai")))

	conv := memory.New(cfg.AI.MaxMemory)
	limiter := ratelimit.New(threshold)

	a := &App{
		cfgm:     cfgm,
		logsvc:   logsvc,
		log:      log,
		adapter:  adapter,
		auth:     authStore,
		limiter:  limiter,
		conv:     conv,
		recorder: recorder,
		backups:  backups,
		met:      met,
		updates:  make(chan kit.Update, 256),
	}

	if cfg.Health.Enabled {
		a.health = health.NewServer(cfg.Health.Address, met.Registry(),
			log.With(logx.String("comp", "health")))
	}

	a.session = NewSession(SessionDeps{
		Adapter:      adapter,
		Auth:         authStore,
		Limiter:      limiter,
		Memory:       conv,
		AI:           aiClient,
		Recorder:     recorder,
		Backups:      backups,
		Dispatcher:   dispatcher,
		Metrics:      met,
		AdminContact: cfg.Telegram.AdminContact,
	}, log.With(logx.String("comp", "session")))

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "app.supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	// The sidecar is a degradation, not a dependency.
	if a.health != nil {
		if err := a.health.Start(); err != nil {
			a.log.Warn("health server not started", logx.Err(err))
			a.health = nil
		}
	}

	if err := a.backups.StartCron(a.sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("session.dispatch", func(ctx context.Context) {
		a.session.Run(ctx, a.updates)
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.applyConfigUpdates)

	if a.recorder != nil {
		_ = a.recorder.Record(a.sup.Context(), activity.Entry{
			At: time.Now(), Action: "BOT_START",
		})
	}

	a.log.Info("bot started")
	return nil
}

// applyConfigUpdates consumes hot reloads and applies the reloadable
// subset: log level/sinks and the rate-limit threshold. Anything else
// (token, admins, paths) needs a restart.
func (a *App) applyConfigUpdates(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logsvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if d, err := config.ParseDurationField("rate_limit.threshold", cfg.RateLimit.Threshold); err == nil {
				a.limiter.SetThreshold(d)
			}
			a.log.Info("config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.recorder != nil {
		_ = a.recorder.Record(ctx, activity.Entry{At: time.Now(), Action: "BOT_STOP"})
	}

	_ = a.adapter.Stop(ctx)
	a.backups.StopCron()

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}

	if a.health != nil {
		_ = a.health.Stop(ctx)
	}
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	a.log.Info("bot stopped")
	return err
}
