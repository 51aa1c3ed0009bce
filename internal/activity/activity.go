// Package activity records privileged actions to an append-only log.
//
// Two drivers, selected by config like the rest of this repo's stores:
//   - "file": line-oriented text log, one entry per line
//   - "sqlite": database file (requires the sqlite build tag)
//
// Recording is best-effort everywhere it is called: the session layer logs
// and swallows errors rather than surfacing them to users.
package activity

import (
	"context"
	"errors"
	"strings"
	"time"

	"guardbot/pkg/logx"
)

var ErrDisabled = errors.New("activity log disabled")

type Config struct {
	Driver string
	Path   string
}

// Entry is one recorded action. UserID <= 0 means the system itself acted.
type Entry struct {
	At      time.Time
	UserID  int64
	Action  string
	Details string
}

// Recorder is the minimal persistence API used by the session layer.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	// SizeBytes reports the current log size, or -1 when unknown.
	SizeBytes() int64
	// Dir reports the directory holding log artifacts ("" when n/a);
	// the backup snapshotter copies it.
	Dir() string
	Close() error
}

// Open initializes the configured recorder.
// It returns (nil, nil) if the activity log is disabled.
func Open(cfg Config, log logx.Logger) (Recorder, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown activity driver: " + driver)
	}
}
