package deferral

import (
	"context"
	"time"
)

// Deferred is a named unit of work.
type Deferred interface {
	Name() string
	Run(ctx context.Context) error
}

// Executor performs the per-item work of a snapshot.
//
// Executable.Execute calls StartExecution once, Execute once per deferred in
// snapshot order, then EndExecution once.
type Executor interface {
	StartExecution(ctx context.Context, e *Executable) error
	Execute(ctx context.Context, d Deferred) error
	EndExecution(ctx context.Context, e *Executable) error
}

// Scheduler arranges the eventual Execute call of a snapshot.
// Schedule is invoked exactly once per snapshot produced by Manager.Schedule.
type Scheduler interface {
	Schedule(ctx context.Context, e *Executable) error
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, e *Executable) error

func (f SchedulerFunc) Schedule(ctx context.Context, e *Executable) error { return f(ctx, e) }

// Func is the Deferred produced by Builder.
type Func struct {
	name    string
	fn      func(ctx context.Context) error
	timeout time.Duration
}

func (f *Func) Name() string { return f.name }

// Timeout returns the per-run timeout (0 means none).
func (f *Func) Timeout() time.Duration { return f.timeout }

func (f *Func) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.fn(ctx)
}

// ExecutorFuncs adapts optional functions to Executor. Nil phases succeed;
// a nil ExecuteFunc runs the deferred inline.
type ExecutorFuncs struct {
	StartFunc   func(ctx context.Context, e *Executable) error
	ExecuteFunc func(ctx context.Context, d Deferred) error
	EndFunc     func(ctx context.Context, e *Executable) error
}

func (f ExecutorFuncs) StartExecution(ctx context.Context, e *Executable) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx, e)
}

func (f ExecutorFuncs) Execute(ctx context.Context, d Deferred) error {
	if f.ExecuteFunc == nil {
		return d.Run(ctx)
	}
	return f.ExecuteFunc(ctx, d)
}

func (f ExecutorFuncs) EndExecution(ctx context.Context, e *Executable) error {
	if f.EndFunc == nil {
		return nil
	}
	return f.EndFunc(ctx, e)
}
