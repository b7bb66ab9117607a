package executor

import (
	"context"
	"time"

	"procrastinator/internal/deferral"
	"procrastinator/internal/storage"
	logx "procrastinator/pkg/logx"
)

// Recording stores one storage.RunRecord per deferred that actually ran.
//
// The deferred itself is wrapped, so timing stays correct when the inner
// executor runs it asynchronously. Store failures are logged, never returned.
type Recording struct {
	next  deferral.Executor
	store storage.Store
	log   logx.Logger
}

func NewRecording(next deferral.Executor, store storage.Store, log logx.Logger) *Recording {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recording{next: next, store: store, log: log}
}

func (r *Recording) StartExecution(ctx context.Context, x *deferral.Executable) error {
	return r.next.StartExecution(ctx, x)
}

func (r *Recording) Execute(ctx context.Context, d deferral.Deferred) error {
	if r.store == nil {
		return r.next.Execute(ctx, d)
	}
	return r.next.Execute(ctx, &recorded{Deferred: d, batch: batchID(ctx), r: r})
}

func (r *Recording) EndExecution(ctx context.Context, x *deferral.Executable) error {
	return r.next.EndExecution(ctx, x)
}

type recorded struct {
	deferral.Deferred
	batch string
	r     *Recording
}

// Timeout keeps the inner deferred's timeout visible to executors that honor it.
func (d *recorded) Timeout() time.Duration {
	if t, ok := d.Deferred.(interface{ Timeout() time.Duration }); ok {
		return t.Timeout()
	}
	return 0
}

func (d *recorded) Run(ctx context.Context) error {
	start := time.Now()
	err := d.Deferred.Run(ctx)
	rec := storage.RunRecord{
		Batch:    d.batch,
		Name:     d.Name(),
		Started:  start,
		Duration: time.Since(start),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// The run context may already be cancelled; the record should still land.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := d.r.store.AppendRun(sctx, rec); serr != nil {
		d.r.log.Warn("record run failed", logx.String("name", rec.Name), logx.Err(serr))
	}
	return err
}
