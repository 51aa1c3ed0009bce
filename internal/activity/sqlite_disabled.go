//go:build !sqlite
// +build !sqlite

package activity

import (
	"errors"

	"guardbot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Recorder, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite activity log not built: build with -tags sqlite")
}
