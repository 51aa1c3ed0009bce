//go:build sqlite
// +build sqlite

package activity

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"guardbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteRecorder struct {
	db   *sql.DB
	log  logx.Logger
	path string
}

func openSQLite(cfg Config, log logx.Logger) (Recorder, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("activity.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	r := &sqliteRecorder{db: db, log: log, path: path}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *sqliteRecorder) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, string(b))
	return err
}

func (r *sqliteRecorder) Record(ctx context.Context, e Entry) error {
	if r == nil || r.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity(at, user_id, action, details) VALUES(?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.UserID, e.Action, e.Details,
	)
	return err
}

func (r *sqliteRecorder) SizeBytes() int64 {
	st, err := os.Stat(r.path)
	if err != nil {
		return -1
	}
	return st.Size()
}

func (r *sqliteRecorder) Dir() string { return filepath.Dir(r.path) }

func (r *sqliteRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
