package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"procrastinator/internal/deferral"
	logx "procrastinator/pkg/logx"
)

// Executor runs each deferred of a snapshot on the engine's workers.
//
// Execute only submits (blocking while the queue is full, or failing with
// ErrQueueFull under WithDropWhenFull), so deferreds of a
// batch may overlap. With WaitBatch, EndExecution blocks until every deferred
// submitted for that batch has finished and returns their joined errors.
type Executor struct {
	svc       *Service
	log       logx.Logger
	waitBatch bool
	dropFull  bool

	mu      sync.Mutex
	batches map[string]*batchState
}

type batchState struct {
	pending int
	idle    chan struct{}
	errs    []error
}

type ExecutorOption func(*Executor)

func WithWaitBatch(enabled bool) ExecutorOption {
	return func(e *Executor) { e.waitBatch = enabled }
}

// WithDropWhenFull makes Execute fail with ErrQueueFull instead of waiting
// for queue space.
func WithDropWhenFull(enabled bool) ExecutorOption {
	return func(e *Executor) { e.dropFull = enabled }
}

func WithExecutorLogger(log logx.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

func NewExecutor(svc *Service, opts ...ExecutorOption) *Executor {
	e := &Executor{svc: svc, batches: map[string]*batchState{}}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	return e
}

func (e *Executor) StartExecution(_ context.Context, x *deferral.Executable) error {
	e.mu.Lock()
	if _, ok := e.batches[x.ID()]; !ok {
		idle := make(chan struct{})
		close(idle)
		e.batches[x.ID()] = &batchState{idle: idle}
	}
	e.mu.Unlock()
	e.log.Debug("batch submitting", logx.String("batch", x.ID()), logx.Int("count", x.Len()))
	return nil
}

func (e *Executor) Execute(ctx context.Context, d deferral.Deferred) error {
	batch := ""
	if x, ok := deferral.FromContext(ctx); ok {
		batch = x.ID()
	}
	st := e.track(batch)

	var timeout time.Duration
	if f, ok := d.(interface{ Timeout() time.Duration }); ok {
		timeout = f.Timeout()
	}
	task := Task{
		Name:    d.Name(),
		Batch:   batch,
		Timeout: timeout,
		Run:     d.Run,
		Done:    func(err error) { e.untrack(st, err) },
	}
	var err error
	if e.dropFull {
		err = e.svc.Enqueue(task)
	} else {
		err = e.svc.Submit(ctx, task)
	}
	if err != nil {
		e.untrack(st, nil)
	}
	return err
}

func (e *Executor) EndExecution(ctx context.Context, x *deferral.Executable) error {
	e.mu.Lock()
	st := e.batches[x.ID()]
	if !e.waitBatch || st == nil {
		delete(e.batches, x.ID())
		e.mu.Unlock()
		return nil
	}
	idle := st.idle
	e.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	errs := st.errs
	st.errs = nil
	delete(e.batches, x.ID())
	e.mu.Unlock()
	return errors.Join(errs...)
}

func (e *Executor) track(batch string) *batchState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.batches[batch]
	if st == nil {
		idle := make(chan struct{})
		close(idle)
		st = &batchState{idle: idle}
		if batch != "" {
			e.batches[batch] = st
		}
	}
	if st.pending == 0 {
		st.idle = make(chan struct{})
	}
	st.pending++
	return st
}

func (e *Executor) untrack(st *batchState, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		st.errs = append(st.errs, err)
	}
	st.pending--
	if st.pending == 0 {
		close(st.idle)
	}
}
