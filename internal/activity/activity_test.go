package activity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"guardbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		r, err := Open(Config{Driver: driver}, logx.Nop())
		if r != nil || err != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, r, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileRecorderLineFormat(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "activity.log")
	r, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	at := time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC)
	if err := r.Record(context.Background(), Entry{At: at, UserID: 42, Action: "GRANT", Details: "777"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(context.Background(), Entry{At: at, Action: "BOT_START"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	want := "[2025-03-01 12:30:45] User: 42 | Action: GRANT | Details: 777"
	if lines[0] != want {
		t.Fatalf("line = %q, want %q", lines[0], want)
	}
	if !strings.Contains(lines[1], "User: SYSTEM | Action: BOT_START") {
		t.Fatalf("system line = %q", lines[1])
	}
}

func TestFileRecorderSizeAndDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.log")
	r, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := r.Dir(); got != dir {
		t.Fatalf("Dir = %q, want %q", got, dir)
	}
	if err := r.Record(context.Background(), Entry{UserID: 1, Action: "STATUS"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got := r.SizeBytes(); got <= 0 {
		t.Fatalf("SizeBytes = %d, want > 0", got)
	}
}

func TestFileRecorderClosedRejectsWrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "activity.log")
	r, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Record(context.Background(), Entry{UserID: 1, Action: "X"}); err == nil {
		t.Fatal("expected error after Close")
	}
}
