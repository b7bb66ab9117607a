package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"procrastinator/internal/config"
	"procrastinator/internal/deferral"
	"procrastinator/internal/eventbus"
	"procrastinator/internal/observability/admin"
	"procrastinator/internal/runtime/supervisor"
	"procrastinator/internal/storage"
	logx "procrastinator/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	units *unitConn

	// admin is guarded by adminMu, not mu: its handlers take mu, so it must
	// never be stopped while mu is held.
	adminMu sync.Mutex
	admin   *admin.Service

	// runCtx outlives the supervisor so Stop can still flush through the
	// engine after the watchers are gone.
	runCtx    context.Context
	runCancel context.CancelFunc

	// mu serializes every use of the registry; deferral.Manager is not
	// safe for concurrent use.
	mu    sync.Mutex
	cfg   *config.Config
	store storage.Store
	pipe  *pipeline
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLogConfig(cfg))
	return newApp(cfgm, cfg, logSvc, log.With(logx.String("comp", "app")))
}

func newApp(cfgm *config.Manager, cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	a := &App{
		cfgm:  cfgm,
		cfg:   cfg,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		units: &unitConn{log: log.With(logx.String("comp", "systemd"))},
	}

	store, err := a.openStore(cfg)
	if err != nil {
		return nil, err
	}
	pipe, err := buildPipeline(cfg, log, a.bus, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	a.store = store
	a.pipe = pipe
	return a, nil
}

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the pipeline, schedules the configured deferreds once and
// begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.runCtx, a.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	a.mu.Lock()
	a.pipe.start(a.runCtx)
	a.mu.Unlock()

	if _, err := a.Trigger(a.runCtx); err != nil {
		a.log.Warn("initial schedule failed", logx.Err(err))
	}

	if err := a.restartAdmin(a.runCtx, a.cfg); err != nil {
		a.log.Warn("admin disabled", logx.Err(err))
	}

	updates := a.cfgm.Subscribe(1)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(c, cfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// Trigger registers the configured deferreds and schedules them as one batch.
// It returns (nil, nil) when nothing is configured.
func (a *App) Trigger(ctx context.Context) (*deferral.Executable, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.triggerLocked(ctx)
}

func (a *App) triggerLocked(ctx context.Context) (*deferral.Executable, error) {
	if err := registerConfigured(a.pipe.mgr, a.cfg.Deferreds, a.units, a.log.With(logx.String("comp", "deferred"))); err != nil {
		return nil, err
	}
	x, err := a.pipe.mgr.Schedule(ctx)
	if x != nil {
		a.log.Info("deferreds scheduled",
			logx.String("batch", x.ID()),
			logx.Strings("names", x.Names()),
			logx.String("mode", a.pipe.mode),
		)
	}
	return x, err
}

// Manager exposes the registry to fn under the app lock, so callers can
// register extra deferreds next to the configured ones.
func (a *App) Manager(fn func(m *deferral.Manager) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.pipe.mgr)
}

// Flush executes everything a queue or timed scheduler still holds.
func (a *App) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.pipe.queue != nil:
		return a.pipe.queue.Flush(ctx)
	case a.pipe.timed != nil:
		return a.pipe.timed.RunNow(ctx)
	}
	return nil
}

// Status reports the running pipeline.
type Status struct {
	PipelineStatus
	StorageEnabled bool
}

func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{PipelineStatus: a.pipe.status(), StorageEnabled: a.store != nil}
}

// RecentRuns returns up to limit recorded runs, newest first.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	a.mu.Lock()
	store := a.store
	a.mu.Unlock()
	if store == nil {
		return nil, storage.ErrDisabled
	}
	return store.RecentRuns(ctx, limit)
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if !a.applyConfigLocked(ctx, cfg) {
		return
	}
	if err := a.restartAdmin(a.runContext(), cfg); err != nil {
		a.log.Warn("admin restart failed", logx.Err(err))
	}
}

// applyConfigLocked reports whether the admin section changed.
func (a *App) applyConfigLocked(ctx context.Context, cfg *config.Config) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	sections, attrs, _ := config.SummarizeConfigChange(a.cfg, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
	} else {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}

	rebuild, adminChanged := false, false
	for _, s := range sections {
		switch s {
		case "logging":
			if a.logs != nil {
				a.logs.Apply(mapLogConfig(cfg))
			}
		case "scheduler", "task_engine", "storage":
			rebuild = true
		case "admin":
			adminChanged = true
		}
	}
	if rebuild {
		if err := a.rebuildLocked(ctx, cfg); err != nil {
			a.log.Error("pipeline rebuild failed; keeping previous pipeline", logx.Err(err))
			return false
		}
	}
	a.cfg = cfg

	if _, err := a.triggerLocked(a.runContext()); err != nil {
		a.log.Warn("schedule after reload failed", logx.Err(err))
	}
	return adminChanged
}

// restartAdmin stops the running admin server (if any) and starts a new one
// when cfg enables it.
func (a *App) restartAdmin(ctx context.Context, cfg *config.Config) error {
	ac, enabled, err := mapAdminConfig(cfg)
	if err != nil {
		return err
	}

	a.adminMu.Lock()
	defer a.adminMu.Unlock()
	if a.admin != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		a.admin.Stop(stopCtx)
		cancel()
		a.admin = nil
	}
	if !enabled {
		return nil
	}

	svc := admin.New(ac, admin.Sources{
		Status: func() any { return a.Status() },
		Runs: func(c context.Context, limit int) (any, error) {
			return a.RecentRuns(c, limit)
		},
	}, a.log.With(logx.String("comp", "admin")))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	a.admin = svc
	return nil
}

// AdminAddr returns the admin server's bound address, or "" when disabled.
func (a *App) AdminAddr() string {
	a.adminMu.Lock()
	defer a.adminMu.Unlock()
	if a.admin == nil {
		return ""
	}
	return a.admin.Addr()
}

// rebuildLocked swaps in a pipeline built from cfg. The old pipeline is
// stopped (flushing what it holds) before the new one starts.
func (a *App) rebuildLocked(ctx context.Context, cfg *config.Config) error {
	oldStore := a.store
	store := oldStore
	if storageChanged(a.cfg, cfg) {
		st, err := a.openStore(cfg)
		if err != nil {
			return err
		}
		store = st
	}

	pipe, err := buildPipeline(cfg, a.log, a.bus, store)
	if err != nil {
		if store != oldStore && store != nil {
			_ = store.Close()
		}
		return err
	}

	carried := carryRegistered(a.pipe.mgr, pipe.mgr)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	if err := a.pipe.stop(stopCtx); err != nil {
		a.log.Warn("previous pipeline stopped with errors", logx.Err(err))
	}
	cancel()

	if store != oldStore && oldStore != nil {
		if err := oldStore.Close(); err != nil {
			a.log.Warn("close previous store failed", logx.Err(err))
		}
	}
	a.store = store
	a.pipe = pipe
	a.pipe.start(a.runContext())
	a.log.Info("pipeline rebuilt",
		logx.String("mode", pipe.mode),
		logx.Bool("engine", pipe.engine != nil),
		logx.Int("carried", carried),
	)
	return nil
}

// carryRegistered moves deferreds registered on from but not yet scheduled
// into to, keeping their order.
func carryRegistered(from, to *deferral.Manager) int {
	n := 0
	for _, name := range from.Names() {
		d, err := from.Get(name)
		if err != nil {
			continue
		}
		to.Register(d)
		n++
	}
	return n
}

func (a *App) runContext() context.Context {
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

func (a *App) openStore(cfg *config.Config) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	return st, nil
}

func storageChanged(oldCfg, newCfg *config.Config) bool {
	oldS, _, _ := mapStorageConfig(oldCfg)
	newS, _, _ := mapStorageConfig(newCfg)
	return oldS != newS
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop watching first so no reload races the shutdown.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := boundedContext(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("admin", 3*time.Second, func(c context.Context) error {
		a.adminMu.Lock()
		defer a.adminMu.Unlock()
		if a.admin != nil {
			a.admin.Stop(c)
			a.admin = nil
		}
		return nil
	})

	a.mu.Lock()
	defer a.mu.Unlock()

	step("pipeline", 10*time.Second, func(c context.Context) error { return a.pipe.stop(c) })
	a.runCancel()
	step("units", time.Second, func(context.Context) error { return a.units.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// boundedContext derives a timeout context that never extends ctx's deadline.
func boundedContext(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, max)
}
