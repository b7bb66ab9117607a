package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "procrastinator/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe structured attrs
// for logging, and the names of deferreds that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if !strings.EqualFold(strings.TrimSpace(oSch.Mode), strings.TrimSpace(nSch.Mode)) ||
		strings.TrimSpace(oSch.Spec) != strings.TrimSpace(nSch.Spec) ||
		strings.TrimSpace(oSch.Timezone) != strings.TrimSpace(nSch.Timezone) ||
		oSch.FlushOnStop != nSch.FlushOnStop {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.mode", strings.TrimSpace(nSch.Mode)),
			logx.String("scheduler.spec", strings.TrimSpace(nSch.Spec)),
			logx.String("scheduler.timezone", strings.TrimSpace(nSch.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || oTE != nTE {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.enabled", nTE.Enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Bool("task_engine.wait_batch", nTE.WaitBatch),
			logx.Bool("task_engine.drop_when_full", nTE.DropWhenFull),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Int("storage.retain", nS.Retain),
		)
	}

	// never log the token
	oA, nA := derefAdmin(oldCfg.Admin), derefAdmin(newCfg.Admin)
	if oA != nA {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", nA.Enabled),
			logx.String("admin.addr", strings.TrimSpace(nA.Addr)),
			logx.Bool("admin.pprof", nA.Pprof),
			logx.Bool("admin.token_set", strings.TrimSpace(nA.Token) != ""),
		)
	}

	deferredChanged := diffDeferreds(oldCfg.Deferreds, newCfg.Deferreds)
	if len(deferredChanged) > 0 {
		changed = append(changed, "deferreds")
		attrs = append(attrs,
			logx.Int("deferreds.changed_count", len(deferredChanged)),
			logx.Int("deferreds.count", len(newCfg.Deferreds)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, deferredChanged
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(sc *StorageConfig) StorageConfig {
	if sc == nil {
		return StorageConfig{}
	}
	return *sc
}

func derefAdmin(ac *AdminConfig) AdminConfig {
	if ac == nil {
		return AdminConfig{}
	}
	return *ac
}

func diffDeferreds(oldL, newL []DeferredConfig) []string {
	index := func(l []DeferredConfig) map[string]DeferredConfig {
		m := make(map[string]DeferredConfig, len(l))
		for _, d := range l {
			m[strings.TrimSpace(d.Name)] = d
		}
		return m
	}
	oldM, newM := index(oldL), index(newL)

	var out []string
	for name, nd := range newM {
		od, ok := oldM[name]
		if !ok || !reflect.DeepEqual(od, nd) {
			out = append(out, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// hashBytes returns a stable 64-bit hash of b. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
