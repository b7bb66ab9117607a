package scheduler

import (
	"context"
	"errors"
	"sync"

	"procrastinator/internal/deferral"
	"procrastinator/internal/eventbus"
	logx "procrastinator/pkg/logx"
)

// Queue holds snapshots until Flush is called.
type Queue struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	pending []*deferral.Executable
}

func NewQueue(log logx.Logger, bus eventbus.Bus) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{log: log, bus: bus}
}

func (q *Queue) Schedule(_ context.Context, e *deferral.Executable) error {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	n := len(q.pending)
	q.mu.Unlock()

	eventbus.Publish(q.bus, eventbus.TypeScheduled, ScheduledEvent{Batch: e.ID(), Names: e.Names()})
	q.log.Debug("batch queued", logx.String("batch", e.ID()), logx.Int("pending", n))
	return nil
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush executes queued snapshots in arrival order. Every snapshot runs even
// if an earlier one fails; failures are returned joined.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	var errs []error
	for _, e := range batch {
		if err := runBatch(ctx, q.log, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes whatever is still queued.
func (q *Queue) Close(ctx context.Context) error {
	return q.Flush(ctx)
}
