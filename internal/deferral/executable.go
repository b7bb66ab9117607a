package deferral

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

var batchSeq atomic.Uint64

// Executable is an immutable, ordered snapshot of deferreds bound to an
// Executor.
type Executable struct {
	id      string
	created time.Time
	items   []Deferred
	exec    Executor
}

func newExecutable(items []Deferred, exec Executor) *Executable {
	now := time.Now()
	return &Executable{
		id:      fmt.Sprintf("batch-%x-%x", now.UnixNano(), batchSeq.Add(1)),
		created: now,
		items:   items,
		exec:    exec,
	}
}

// NewExecutable freezes items (copied) into a snapshot bound to exec.
func NewExecutable(exec Executor, items ...Deferred) *Executable {
	return newExecutable(append([]Deferred(nil), items...), exec)
}

// ID identifies the snapshot in logs and run history.
func (e *Executable) ID() string { return e.id }

func (e *Executable) Created() time.Time { return e.created }

func (e *Executable) Executor() Executor { return e.exec }

// All returns the deferreds in registration order. The slice is a copy.
func (e *Executable) All() []Deferred {
	return append([]Deferred(nil), e.items...)
}

func (e *Executable) Len() int { return len(e.items) }

func (e *Executable) Names() []string {
	names := make([]string, len(e.items))
	for i, d := range e.items {
		names[i] = d.Name()
	}
	return names
}

// Execute runs the snapshot through its Executor: StartExecution, Execute for
// each deferred in order, EndExecution. The first error from the Executor is
// returned as is and the remaining calls are skipped.
//
// The context handed to the Executor carries e (see FromContext).
// Execute may be called more than once; every call replays the same sequence.
func (e *Executable) Execute(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, executableKey{}, e)

	if err := e.exec.StartExecution(ctx, e); err != nil {
		return err
	}
	for _, d := range e.items {
		if err := e.exec.Execute(ctx, d); err != nil {
			return err
		}
	}
	return e.exec.EndExecution(ctx, e)
}

type executableKey struct{}

// FromContext returns the snapshot being executed, if any.
func FromContext(ctx context.Context) (*Executable, bool) {
	if ctx == nil {
		return nil, false
	}
	e, ok := ctx.Value(executableKey{}).(*Executable)
	return e, ok
}
