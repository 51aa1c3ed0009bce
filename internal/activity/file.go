package activity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"guardbot/pkg/logx"
)

const lineTimeFormat = "2006-01-02 15:04:05"

// fileRecorder appends lines of the form
//
//	[2025-01-02 15:04:05] User: 123456 | Action: GRANT | Details: 789
//
// The format is stable; external tooling greps it.
type fileRecorder struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Recorder, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("activity.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileRecorder{log: log, path: path, f: f}, nil
}

func (r *fileRecorder) Record(ctx context.Context, e Entry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	actor := "SYSTEM"
	if e.UserID > 0 {
		actor = fmt.Sprintf("%d", e.UserID)
	}
	line := fmt.Sprintf("[%s] User: %s | Action: %s | Details: %s\n",
		e.At.Format(lineTimeFormat), actor, e.Action, e.Details)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return errors.New("activity log closed")
	}
	_, err := r.f.WriteString(line)
	return err
}

func (r *fileRecorder) SizeBytes() int64 {
	st, err := os.Stat(r.path)
	if err != nil {
		return -1
	}
	return st.Size()
}

func (r *fileRecorder) Dir() string { return filepath.Dir(r.path) }

func (r *fileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
