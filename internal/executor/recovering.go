package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"procrastinator/internal/deferral"
	logx "procrastinator/pkg/logx"
)

// Recovering swallows errors and panics of the wrapped executor after logging
// them, so a failing deferred never aborts the rest of its batch.
type Recovering struct {
	next deferral.Executor
	log  logx.Logger
}

func NewRecovering(next deferral.Executor, log logx.Logger) *Recovering {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recovering{next: next, log: log}
}

func (r *Recovering) StartExecution(ctx context.Context, x *deferral.Executable) error {
	r.guard("start", x.ID(), "", func() error { return r.next.StartExecution(ctx, x) })
	return nil
}

func (r *Recovering) Execute(ctx context.Context, d deferral.Deferred) error {
	r.guard("execute", batchID(ctx), d.Name(), func() error { return r.next.Execute(ctx, d) })
	return nil
}

func (r *Recovering) EndExecution(ctx context.Context, x *deferral.Executable) error {
	r.guard("end", x.ID(), "", func() error { return r.next.EndExecution(ctx, x) })
	return nil
}

func (r *Recovering) guard(phase, batch, name string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("panic in executor",
					logx.String("phase", phase),
					logx.String("batch", batch),
					logx.String("name", name),
					logx.Any("panic", rec),
					logx.Stack(string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return fn()
	}()
	if err != nil {
		r.log.Warn("executor error suppressed",
			logx.String("phase", phase),
			logx.String("batch", batch),
			logx.String("name", name),
			logx.Err(err),
		)
	}
}
