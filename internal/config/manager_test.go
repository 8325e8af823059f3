package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /var/lib/scraperd/jobs.db
  busy_timeout: 2s
scheduler:
  max_concurrent_tasks: 3
  profile_tokens: [alpha, beta, gamma]
  poll_interval: 500ms
browser:
  api_url: http://127.0.0.1:50325
launcher:
  launches_per_minute: 12
recurring:
  - name: news
    target_url: https://example.com/news
    schedule: "*/5 * * * *"
    priority: 2
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 3 {
		t.Fatalf("max_concurrent_tasks = %d, want 3", cfg.Scheduler.MaxConcurrentTasks)
	}
	if len(cfg.Scheduler.ProfileTokens) != 3 || cfg.Scheduler.ProfileTokens[1] != "beta" {
		t.Fatalf("profile_tokens = %v", cfg.Scheduler.ProfileTokens)
	}
	if cfg.Launcher.LaunchesPerMinute != 12 {
		t.Fatalf("launches_per_minute = %d, want 12", cfg.Launcher.LaunchesPerMinute)
	}
	if len(cfg.Recurring) != 1 || cfg.Recurring[0].Schedule != "*/5 * * * *" {
		t.Fatalf("recurring = %+v", cfg.Recurring)
	}

	d, err := ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	if err != nil || d != 500*time.Millisecond {
		t.Fatalf("poll_interval = %v/%v", d, err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging:
  level: info
shceduler:
  max_concurrent_tasks: 3
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for misspelled section")
	}
}

func TestParseJSONAlsoAccepted(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"logging":{"level":"warn","console":false},"storage":{"driver":"memory"},"scheduler":{"max_concurrent_tasks":1,"profile_tokens":["a"]},"browser":{"api_url":""}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %s, want warn", cfg.Logging.Level)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v/%v, want 0/nil", d, err)
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatal("expected error for junk duration")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default = %v/%v, want 7s", d, err)
	}
}
