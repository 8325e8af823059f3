package config

// Config is the root configuration for the scraperd daemon.
//
// It is parsed strictly (unknown fields are rejected) so typos in config
// files are caught at load time rather than silently ignored.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Browser   BrowserConfig   `json:"browser"`
	Launcher  LauncherConfig  `json:"launcher,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`

	// Recurring jobs are created and enqueued automatically on a schedule.
	Recurring []RecurringJob `json:"recurring,omitempty"`
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

// StorageConfig controls the task store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": volatile in-memory store (tests, throwaway runs)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig is consumed once at construction; live reloads do not
// resize the running scheduler.
//
// ProfileTokens is the pool of exclusive browser-profile identities. If it
// is empty a single synthetic token is used (with a logged warning), which
// effectively serializes all jobs.
type SchedulerConfig struct {
	MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
	ProfileTokens      []string `json:"profile_tokens"`

	// PollInterval bounds how long the dispatcher blocks waiting for work
	// before re-checking shutdown. Default "1s".
	PollInterval string `json:"poll_interval,omitempty"`

	// PerJobEstimate is the fixed per-job duration used for queue wait
	// estimates. Default "30s".
	PerJobEstimate string `json:"per_job_estimate,omitempty"`
}

// BrowserConfig points at the local browser-pool HTTP API that owns the
// actual browser profiles (one per token).
type BrowserConfig struct {
	APIURL  string `json:"api_url"`
	Timeout string `json:"timeout,omitempty"` // default "15s"
}

// LauncherConfig controls out-of-process job execution.
type LauncherConfig struct {
	// WorkerBinary is the fixed worker entry point. Empty means
	// "scrape-worker" resolved via PATH (or next to the daemon binary).
	WorkerBinary string `json:"worker_binary,omitempty"`

	// ArtifactDir is where per-job temp artifacts are written.
	// Empty means the OS temp dir.
	ArtifactDir string `json:"artifact_dir,omitempty"`

	// LaunchesPerMinute rate-limits browser-profile startups so the
	// browser-pool API isn't hammered when the queue drains. 0 disables.
	LaunchesPerMinute int `json:"launches_per_minute,omitempty"`
}

// DebugConfig gates optional debug tooling.
type DebugConfig struct {
	Pprof PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig controls the optional pprof HTTP listener. Binding beyond
// loopback requires a token or an explicit allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// RecurringJob is a config-defined job that is created and enqueued on a
// schedule. Schedule accepts a cron spec ("*/5 * * * *") or a Go duration
// ("30m").
type RecurringJob struct {
	Name       string `json:"name"`
	TargetURL  string `json:"target_url"`
	Schedule   string `json:"schedule"`
	Priority   int    `json:"priority,omitempty"`
	UseProcess *bool  `json:"use_process,omitempty"` // default true
}
