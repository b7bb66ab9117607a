package app

import (
	"context"
	"errors"
	"fmt"

	"procrastinator/internal/config"
	"procrastinator/internal/deferral"
	"procrastinator/internal/eventbus"
	"procrastinator/internal/executor"
	"procrastinator/internal/storage"
	"procrastinator/internal/task/engine"
	"procrastinator/internal/task/scheduler"
	logx "procrastinator/pkg/logx"
)

// pipeline is the executor chain, scheduler and registry built from one
// config. A reload that touches any of them builds a new pipeline.
type pipeline struct {
	mode string

	engine *engine.Service
	timed  *scheduler.Service
	queue  *scheduler.Queue

	mgr *deferral.Manager
}

func buildPipeline(cfg *config.Config, log logx.Logger, bus eventbus.Bus, store storage.Store) (*pipeline, error) {
	p := &pipeline{}

	engCfg, useEngine, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	var base deferral.Executor
	if useEngine {
		p.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
		base = engine.NewExecutor(p.engine,
			engine.WithWaitBatch(cfg.TaskEngine.WaitBatch),
			engine.WithDropWhenFull(cfg.TaskEngine.DropWhenFull),
			engine.WithExecutorLogger(log.With(logx.String("comp", "executor"))),
		)
	} else {
		base = executor.NewSequential(log.With(logx.String("comp", "executor")), bus)
	}
	exec := executor.NewRecording(
		executor.NewRecovering(base, log.With(logx.String("comp", "executor"))),
		store,
		log.With(logx.String("comp", "recorder")),
	)

	mode, sc := mapSchedulerConfig(cfg)
	p.mode = mode
	slog := log.With(logx.String("comp", "scheduler"), logx.String("mode", mode))

	var sched deferral.Scheduler
	switch mode {
	case config.ModeImmediate:
		sched = scheduler.NewImmediate(slog, bus)
	case config.ModeQueue:
		p.queue = scheduler.NewQueue(slog, bus)
		sched = p.queue
	case config.ModeTimed:
		p.timed, err = scheduler.New(sc, slog, bus)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		sched = p.timed
	default:
		return nil, fmt.Errorf("scheduler.mode: unknown %q", mode)
	}

	p.mgr = deferral.NewManager(sched, exec, deferral.WithLogger(log.With(logx.String("comp", "deferral"))))
	return p, nil
}

func (p *pipeline) start(ctx context.Context) {
	if p.engine != nil {
		p.engine.Start(ctx)
	}
	if p.timed != nil {
		p.timed.Start(ctx)
	}
}

// stop drains the scheduler before the engine so flushed batches still have
// workers to run on.
func (p *pipeline) stop(ctx context.Context) error {
	var errs []error
	if p.timed != nil {
		if err := p.timed.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.queue != nil {
		if err := p.queue.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.engine != nil {
		p.engine.Stop(ctx)
	}
	return errors.Join(errs...)
}

// PipelineStatus is a point-in-time view of the running pipeline.
type PipelineStatus struct {
	Mode       string
	Registered []string
	Pending    int
	Engine     *engine.Snapshot
	Scheduler  *scheduler.Snapshot
}

func (p *pipeline) status() PipelineStatus {
	st := PipelineStatus{Mode: p.mode, Registered: p.mgr.Names()}
	if p.engine != nil {
		es := p.engine.Snapshot()
		st.Engine = &es
	}
	switch {
	case p.timed != nil:
		ss := p.timed.Snapshot()
		st.Scheduler = &ss
		st.Pending = ss.Pending
	case p.queue != nil:
		st.Pending = p.queue.Pending()
	}
	return st
}
