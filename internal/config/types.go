package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler decides when a scheduled snapshot is executed.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine, when present and enabled, runs deferreds on a worker pool
	// instead of inline.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`

	Admin *AdminConfig `json:"admin,omitempty"`

	// Deferreds are registered, in order, on start and on every reload.
	Deferreds []DeferredConfig `json:"deferreds"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert mirrors high-severity lines to stderr.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Scheduler modes.
const (
	ModeImmediate = "immediate"
	ModeQueue     = "queue"
	ModeTimed     = "timed"
)

// SchedulerConfig selects the scheduler implementation.
//
//   - immediate: execute inside Schedule (default)
//   - queue: hold snapshots until shutdown
//   - timed: execute at the next trigger of Spec
type SchedulerConfig struct {
	Mode string `json:"mode"`
	// Spec is a cron expression, Go duration or HH:MM interval (timed mode).
	Spec string `json:"spec,omitempty"`
	// Trigger timezone.
	Timezone    string `json:"timezone,omitempty"`
	FlushOnStop bool   `json:"flush_on_stop,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - rate_per_sec: 0 (unthrottled)
//   - wait_batch: false
type TaskEngineConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RatePerSec  int `json:"rate_per_sec,omitempty"`

	// WaitBatch makes a batch finish only after all its deferreds have run.
	WaitBatch bool `json:"wait_batch,omitempty"`

	// DropWhenFull fails a deferred with a queue-full error instead of
	// blocking the batch until a slot frees up.
	DropWhenFull bool `json:"drop_when_full,omitempty"`
}

// StorageConfig controls the optional run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./procrastinator.db", "retain": 1000 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`
}

// DeferredConfig describes a deferred: either a command to exec or a
// systemd unit job. Exactly one of Command and Unit must be set.
type DeferredConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	Unit string `json:"unit,omitempty"`
	// Action is start, stop, restart (default) or reload.
	Action string `json:"action,omitempty"`

	// Timeout is a Go duration string; empty means none.
	Timeout string `json:"timeout,omitempty"`
}

// AdminConfig controls the optional admin HTTP server (health, status, runs,
// pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6061").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 so
	// /debug/pprof/profile (30s+) works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
