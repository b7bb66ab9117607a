package app

import (
	"fmt"
	"strings"
	"time"

	"procrastinator/internal/config"
	"procrastinator/internal/observability/admin"
	"procrastinator/internal/storage"
	"procrastinator/internal/task/engine"
	"procrastinator/internal/task/scheduler"
	logx "procrastinator/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    lc.Alert.Enabled,
			MinLevel:   lc.Alert.MinLevel,
			RatePerSec: lc.Alert.RatePerSec,
		},
	}
}

// mapTaskEngineConfig returns enabled=false when deferreds run inline.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, bool, error) {
	te := cfg.TaskEngine
	if te == nil || !te.Enabled {
		return engine.Config{}, false, nil
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, false, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, false, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
		RatePerSec:     te.RatePerSec,
	}, true, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path, Retain: sc.Retain}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (mode string, sc scheduler.Config) {
	mode = strings.ToLower(strings.TrimSpace(cfg.Scheduler.Mode))
	if mode == "" {
		mode = config.ModeImmediate
	}
	return mode, scheduler.Config{
		Spec:        cfg.Scheduler.Spec,
		Timezone:    cfg.Scheduler.Timezone,
		FlushOnStop: cfg.Scheduler.FlushOnStop,
	}
}

func mapAdminConfig(cfg *config.Config) (admin.Config, bool, error) {
	ac := cfg.Admin
	if ac == nil || !ac.Enabled {
		return admin.Config{}, false, nil
	}
	out := admin.Config{
		Addr:          strings.TrimSpace(ac.Addr),
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		PprofPrefix:   ac.PprofPrefix,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 10*time.Second); err != nil {
		return admin.Config{}, false, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("admin.write_timeout", ac.WriteTimeout); err != nil {
		return admin.Config{}, false, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, time.Minute); err != nil {
		return admin.Config{}, false, err
	}
	return out, true, nil
}
