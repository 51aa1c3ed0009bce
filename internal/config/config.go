package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the whole bot configuration. Secrets (bot token, AI key) may be
// left empty in the file and provided via environment variables instead.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	AI        AIConfig        `json:"ai"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Auth      AuthConfig      `json:"auth"`
	Activity  ActivityConfig  `json:"activity"`
	Backup    BackupConfig    `json:"backup"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Health    HealthConfig    `json:"health"`
	Guard     GuardConfig     `json:"guard"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	AdminContact string  `json:"admin_contact"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type AIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	// Timeout is a Go duration string.
	Timeout string `json:"timeout"`
	// MaxMemory is the number of retained conversational exchanges
	// (each exchange stores a user turn plus an assistant turn).
	MaxMemory int `json:"max_memory"`
}

type RateLimitConfig struct {
	// Threshold is a Go duration string; minimum spacing between admitted
	// actions per user.
	Threshold string `json:"threshold"`
}

type AuthConfig struct {
	Path string `json:"path"`
}

type ActivityConfig struct {
	// Driver: "file", "sqlite" (requires the sqlite build tag) or "none".
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type BackupConfig struct {
	Dir string `json:"dir"`
	// Interval is a Go duration string for the activity-driven automatic
	// backup check.
	Interval string `json:"interval"`
	// Cron optionally adds a clock-driven automatic backup on top of the
	// activity-driven one (standard 5-field cron spec). Empty disables it.
	Cron string `json:"cron"`
}

type BroadcastConfig struct {
	RatePerSec int `json:"rate_per_sec"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

type GuardConfig struct {
	Path string `json:"path"`
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.AI.Timeout == "" {
		c.AI.Timeout = "30s"
	}
	if c.AI.MaxMemory <= 0 {
		c.AI.MaxMemory = 10
	}
	if c.RateLimit.Threshold == "" {
		c.RateLimit.Threshold = "2s"
	}
	if c.Auth.Path == "" {
		c.Auth.Path = "./users.json"
	}
	if c.Activity.Driver == "" {
		c.Activity.Driver = "file"
	}
	if c.Activity.Path == "" {
		c.Activity.Path = "./logs/activity.log"
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "./backups"
	}
	if c.Backup.Interval == "" {
		c.Backup.Interval = "24h"
	}
	if c.Broadcast.RatePerSec <= 0 {
		c.Broadcast.RatePerSec = 10
	}
	if c.Health.Address == "" {
		c.Health.Address = ":8080"
	}
	if c.Guard.Path == "" {
		c.Guard.Path = "./bot.pid"
	}
}

// ApplyEnv overlays secrets and hosting-platform knobs from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("BOT_TOKEN")); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.AI.APIKey = v
	}
	// Hosting platforms (Render, Railway, ...) inject PORT.
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Health.Address = ":" + strconv.Itoa(p)
		}
	}
}

// Validate rejects configurations that cannot be started or hot-reloaded.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (or BOT_TOKEN)")
	}
	if len(c.Telegram.AdminUserIDs) == 0 {
		return errors.New("telegram.admin_user_ids must not be empty")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("ai.timeout", c.AI.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("rate_limit.threshold", c.RateLimit.Threshold); err != nil {
		return err
	}
	if _, err := ParseDurationField("backup.interval", c.Backup.Interval); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Activity.Driver)) {
	case "file", "sqlite", "none":
	default:
		return fmt.Errorf("activity.driver: unknown driver %q", c.Activity.Driver)
	}
	return nil
}

// ParseDurationField parses a Go duration string, naming the field on error.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s: empty duration", field)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}
