// Package guard enforces at-most-one running bot instance via a PID file.
//
// Availability wins over exclusivity: every I/O failure here degrades to
// "no protection" with a warning instead of blocking startup, and a stale
// token naming a dead process is treated the same as no token.
package guard

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"guardbot/pkg/logx"
)

// Terminator force-terminates the process behind a PID. Failure (process
// already gone, no permission) is an acceptable outcome, not an error the
// guard acts on.
type Terminator func(pid int) error

// KillTerminator sends SIGKILL, matching the crash-only takeover semantics:
// the prior instance gets no chance to object.
func KillTerminator(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGKILL)
}

type Guard struct {
	path string
	pid  int
	term Terminator
	log  logx.Logger
}

type Option func(*Guard)

// WithPID overrides the current-process identifier (tests).
func WithPID(pid int) Option {
	return func(g *Guard) { g.pid = pid }
}

// WithTerminator overrides how a prior holder is terminated (tests).
func WithTerminator(t Terminator) Option {
	return func(g *Guard) { g.term = t }
}

func New(path string, log logx.Logger, opts ...Option) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Guard{path: path, pid: os.Getpid(), term: KillTerminator, log: log}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Acquire terminates any prior token holder (best-effort) and claims the
// token for the current process. It never fails.
func (g *Guard) Acquire() {
	if b, err := os.ReadFile(g.path); err == nil {
		raw := strings.TrimSpace(string(b))
		if old, perr := strconv.Atoi(raw); perr == nil && old > 0 && old != g.pid {
			if terr := g.term(old); terr != nil {
				// Usually the prior instance crashed and the token is stale.
				g.log.Debug("prior instance already gone", logx.Int("pid", old), logx.Err(terr))
			} else {
				g.log.Warn("terminated prior instance", logx.Int("pid", old))
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		g.log.Warn("instance token dir not writable; running unguarded", logx.Err(err))
		return
	}
	if err := os.WriteFile(g.path, []byte(strconv.Itoa(g.pid)), 0o644); err != nil {
		g.log.Warn("instance token not written; running unguarded", logx.Err(err))
	}
}

// Release deletes the token iff it still references the current process.
func (g *Guard) Release() {
	b, err := os.ReadFile(g.path)
	if err != nil {
		return
	}
	if cur, perr := strconv.Atoi(strings.TrimSpace(string(b))); perr != nil || cur != g.pid {
		// Another instance took over; leave its token alone.
		return
	}
	if err := os.Remove(g.path); err != nil {
		g.log.Warn("instance token not removed", logx.Err(err))
	}
}
