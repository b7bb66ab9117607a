package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"procrastinator/internal/task/scheduler"
	"procrastinator/pkg/systemdmanager"
)

// Validate rejects configs that would fail at wiring time, so a bad hot
// reload never replaces a working config.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch mode := strings.ToLower(strings.TrimSpace(cfg.Scheduler.Mode)); mode {
	case "", ModeImmediate, ModeQueue:
	case ModeTimed:
		if _, err := scheduler.ParseSchedule(cfg.Scheduler.Spec); err != nil {
			return fmt.Errorf("scheduler.spec: %w", err)
		}
	default:
		return fmt.Errorf("scheduler.mode: unknown %q (use immediate, queue or timed)", cfg.Scheduler.Mode)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			return fmt.Errorf("task_engine.workers must be >= 0")
		}
		if te.QueueSize < 0 {
			return fmt.Errorf("task_engine.queue_size must be >= 0")
		}
		if te.HistorySize < 0 {
			return fmt.Errorf("task_engine.history_size must be >= 0")
		}
		if te.RatePerSec < 0 {
			return fmt.Errorf("task_engine.rate_per_sec must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			return err
		}
	}

	if sc := cfg.Storage; sc != nil {
		switch d := strings.ToLower(strings.TrimSpace(sc.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(sc.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=%s", d)
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", sc.Driver)
		}
		if sc.Retain < 0 {
			return fmt.Errorf("storage.retain must be >= 0")
		}
		if _, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
			return err
		}
	}

	if ac := cfg.Admin; ac != nil {
		for _, f := range []struct{ path, raw string }{
			{"admin.read_timeout", ac.ReadTimeout},
			{"admin.write_timeout", ac.WriteTimeout},
			{"admin.idle_timeout", ac.IdleTimeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}

	seen := make(map[string]struct{}, len(cfg.Deferreds))
	for i, d := range cfg.Deferreds {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("deferreds[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("deferreds[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		hasCmd, hasUnit := strings.TrimSpace(d.Command) != "", strings.TrimSpace(d.Unit) != ""
		switch {
		case hasCmd == hasUnit:
			return fmt.Errorf("deferreds[%d] (%s): exactly one of command or unit is required", i, name)
		case hasUnit:
			if _, err := systemdmanager.ParseAction(d.Action); err != nil {
				return fmt.Errorf("deferreds[%d] (%s): %w", i, name, err)
			}
		}
		if _, err := ParseDurationField(fmt.Sprintf("deferreds[%d].timeout", i), d.Timeout); err != nil {
			return err
		}
	}
	return nil
}
