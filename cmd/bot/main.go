package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"guardbot/internal/config"
	"guardbot/internal/core"
	"guardbot/internal/guard"
	"guardbot/pkg/logx"
)

func main() {
	os.Exit(run())
}

// run carries the whole lifecycle so deferred cleanup (guard release, log
// sink close) fires on failed startup too, not just on clean shutdown.
func run() int {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	// Secrets live in .env during local development; absence is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: config:", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: config:", err)
		return 1
	}
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logsvc.Close()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	// Take over from any previous instance before touching shared files.
	g := guard.New(cfg.Guard.Path, log.With(logx.String("comp", "guard")))
	g.Acquire()
	defer g.Release()

	app, err := core.NewApp(cfgm, logsvc, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		return 1
	}

	if err := app.Start(ctx); err != nil {
		log.Error("start failed", logx.Err(err))
		return 1
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Warn("shutdown finished with error", logx.Err(err))
	}
	return 0
}
