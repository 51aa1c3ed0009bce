package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const yamlConfig = `
telegram:
  token: "123:abc"
  admin_user_ids: [100, 200]
  admin_contact: "@admin"
ai:
  model: gpt-4o
rate_limit:
  threshold: 5s
`

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", yamlConfig)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Telegram.AdminUserIDs[1] != 200 {
		t.Fatalf("admins = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Fatalf("model = %q", cfg.AI.Model)
	}
	if cfg.RateLimit.Threshold != "5s" {
		t.Fatalf("threshold = %q", cfg.RateLimit.Threshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"telegram":{"token":"t","admin_user_ids":[1]}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestParseYMLExtensionAndNestedKeys(t *testing.T) {
	path := writeConfig(t, "config.yml", `
telegram:
  token: "t"
  admin_user_ids: [1]
logging:
  file:
    enabled: true
    path: ./bot.log
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "./bot.log" {
		t.Fatalf("nested logging.file = %+v", cfg.Logging.File)
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"telegram":{"token":"t","admin_user_ids":[1]}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.Threshold != "2s" {
		t.Fatalf("default threshold = %q", cfg.RateLimit.Threshold)
	}
	if cfg.AI.MaxMemory != 10 {
		t.Fatalf("default max_memory = %d", cfg.AI.MaxMemory)
	}
	if cfg.Backup.Interval != "24h" {
		t.Fatalf("default backup interval = %q", cfg.Backup.Interval)
	}
	if cfg.Activity.Driver != "file" {
		t.Fatalf("default activity driver = %q", cfg.Activity.Driver)
	}
	if cfg.Guard.Path != "./bot.pid" {
		t.Fatalf("default guard path = %q", cfg.Guard.Path)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", yamlConfig+"\nsurprise: true\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"telegram":{"token":"t","admin_user_ids":[1]}} {"more":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "token"},
		{"no admins", func(c *Config) { c.Telegram.AdminUserIDs = nil }, "admin_user_ids"},
		{"bad threshold", func(c *Config) { c.RateLimit.Threshold = "soon" }, "threshold"},
		{"negative interval", func(c *Config) { c.Backup.Interval = "-1h" }, "interval"},
		{"unknown activity driver", func(c *Config) { c.Activity.Driver = "redis" }, "driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Telegram: TelegramConfig{Token: "t", AdminUserIDs: []int64{1}}}
			cfg.ApplyDefaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("PORT", "9090")

	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.AI.APIKey != "env-key" {
		t.Fatalf("api key = %q", cfg.AI.APIKey)
	}
	if cfg.Health.Address != ":9090" {
		t.Fatalf("health address = %q", cfg.Health.Address)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "1500ms"); err != nil || d != 1500*time.Millisecond {
		t.Fatalf("ParseDurationField = (%v, %v)", d, err)
	}
	for _, raw := range []string{"", "later", "-2s"} {
		if _, err := ParseDurationField("x", raw); err == nil {
			t.Fatalf("ParseDurationField(%q): expected error", raw)
		}
	}
}
