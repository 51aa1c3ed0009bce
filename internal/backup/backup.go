// Package backup snapshots persistent state into timestamped directories.
//
// Two automatic triggers exist: an activity tick evaluated at the top of
// each admitted message cycle, and an optional cron schedule for
// deployments where the bot may sit idle past the interval. Manual
// snapshots are independent: they get a distinct name prefix and never
// reset the automatic timer.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"guardbot/pkg/logx"
)

const stampFormat = "20060102_150405"

type Config struct {
	Dir      string
	Interval time.Duration
	// Cron optionally schedules clock-driven automatic snapshots
	// (standard 5-field spec). Empty disables the cron path.
	Cron string
}

// Sources names the artifacts a snapshot copies. The auth store file is
// required: its absence fails the snapshot. The activity dir is optional
// and silently skipped when missing.
type Sources struct {
	AuthStorePath string
	ActivityDir   string
}

type Scheduler struct {
	cfg Config
	src Sources
	log logx.Logger
	now func() time.Time

	mu       sync.Mutex
	lastAuto time.Time

	cronMu  sync.Mutex
	cronRun *cron.Cron
}

type Option func(*Scheduler)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(cfg Config, src Sources, log logx.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{cfg: cfg, src: src, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	// The interval counts from process start, as if a snapshot had just
	// happened; a fresh deploy should not snapshot immediately.
	s.lastAuto = s.now()
	return s
}

// TickOnActivity runs an automatic snapshot if the interval has elapsed.
// Returns the snapshot dir and whether a snapshot was attempted. The timer
// only advances on success, so a failed snapshot retries on the next tick.
func (s *Scheduler) TickOnActivity(ctx context.Context) (dir string, attempted bool, err error) {
	s.mu.Lock()
	due := s.now().Sub(s.lastAuto) > s.cfg.Interval
	s.mu.Unlock()
	if !due {
		return "", false, nil
	}
	dir, err = s.runAuto(ctx)
	return dir, true, err
}

// Manual runs an on-demand snapshot, bypassing the interval check and
// leaving the automatic timer untouched.
func (s *Scheduler) Manual(ctx context.Context) (string, error) {
	return s.snapshot(ctx, "manual_")
}

// LastAuto reports when the automatic path last succeeded (process start
// if never).
func (s *Scheduler) LastAuto() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuto
}

// StartCron launches the optional cron trigger. No-op without a spec.
func (s *Scheduler) StartCron(ctx context.Context) error {
	if s.cfg.Cron == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(s.cfg.Cron, func() {
		if dir, err := s.runAuto(ctx); err != nil {
			s.log.Error("scheduled backup failed", logx.Err(err))
		} else {
			s.log.Info("scheduled backup completed", logx.String("dir", dir))
		}
	})
	if err != nil {
		return fmt.Errorf("backup.cron: invalid spec %q: %w", s.cfg.Cron, err)
	}
	s.cronMu.Lock()
	s.cronRun = c
	s.cronMu.Unlock()
	c.Start()

	go func() {
		<-ctx.Done()
		s.StopCron()
	}()
	return nil
}

func (s *Scheduler) StopCron() {
	s.cronMu.Lock()
	c := s.cronRun
	s.cronRun = nil
	s.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Scheduler) runAuto(ctx context.Context) (string, error) {
	dir, err := s.snapshot(ctx, "")
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.lastAuto = s.now()
	s.mu.Unlock()
	return dir, nil
}

func (s *Scheduler) snapshot(ctx context.Context, prefix string) (string, error) {
	_ = ctx
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: mkdir %s: %w", s.cfg.Dir, err)
	}

	dir, err := s.claimDir(prefix)
	if err != nil {
		return "", err
	}

	// Auth store: required artifact.
	if err := copyFile(s.src.AuthStorePath, filepath.Join(dir, filepath.Base(s.src.AuthStorePath))); err != nil {
		return "", fmt.Errorf("backup: auth store: %w", err)
	}

	// Activity log dir: optional artifact; skipped when absent.
	if s.src.ActivityDir != "" {
		if _, err := os.Stat(s.src.ActivityDir); err == nil {
			dst := filepath.Join(dir, filepath.Base(s.src.ActivityDir))
			if err := copyDir(s.src.ActivityDir, dst); err != nil {
				s.log.Warn("backup: activity dir copy incomplete", logx.Err(err))
			}
		}
	}

	s.log.Info("backup completed", logx.String("dir", dir))
	return dir, nil
}

// claimDir creates a unique snapshot directory. Two snapshots in the same
// second get "_2", "_3", ... suffixes instead of colliding.
func (s *Scheduler) claimDir(prefix string) (string, error) {
	stamp := s.now().Format(stampFormat)
	base := filepath.Join(s.cfg.Dir, prefix+stamp)
	for i := 0; ; i++ {
		dir := base
		if i > 0 {
			dir = fmt.Sprintf("%s_%d", base, i+1)
		}
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("backup: mkdir %s: %w", dir, err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
