package scheduler

import (
	"context"

	"procrastinator/internal/deferral"
	"procrastinator/internal/eventbus"
	logx "procrastinator/pkg/logx"
)

// Immediate executes each snapshot inline; Schedule returns the execution error.
type Immediate struct {
	log logx.Logger
	bus eventbus.Bus
}

func NewImmediate(log logx.Logger, bus eventbus.Bus) *Immediate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Immediate{log: log, bus: bus}
}

func (s *Immediate) Schedule(ctx context.Context, e *deferral.Executable) error {
	eventbus.Publish(s.bus, eventbus.TypeScheduled, ScheduledEvent{Batch: e.ID(), Names: e.Names()})
	return runBatch(ctx, s.log, e)
}
