package executor

import (
	"context"
	"time"

	"procrastinator/internal/deferral"
	"procrastinator/internal/eventbus"
	logx "procrastinator/pkg/logx"
)

// BatchEvent is published when a snapshot starts or finishes executing.
type BatchEvent struct {
	Batch    string        `json:"batch"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ItemEvent is published around each executed deferred.
type ItemEvent struct {
	Batch    string        `json:"batch,omitempty"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Sequential runs every deferred inline, in snapshot order.
type Sequential struct {
	log logx.Logger
	bus eventbus.Bus
}

func NewSequential(log logx.Logger, bus eventbus.Bus) *Sequential {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sequential{log: log, bus: bus}
}

func (s *Sequential) StartExecution(_ context.Context, x *deferral.Executable) error {
	s.log.Debug("batch started", logx.String("batch", x.ID()), logx.Int("count", x.Len()))
	eventbus.Publish(s.bus, eventbus.TypeBatchStarted, BatchEvent{Batch: x.ID(), Count: x.Len()})
	return nil
}

func (s *Sequential) Execute(ctx context.Context, d deferral.Deferred) error {
	batch := batchID(ctx)
	name := d.Name()
	eventbus.Publish(s.bus, eventbus.TypeStarted, ItemEvent{Batch: batch, Name: name})

	start := time.Now()
	err := d.Run(ctx)
	took := time.Since(start)

	if err != nil {
		s.log.Warn("deferred failed", logx.String("batch", batch), logx.String("name", name), logx.Duration("took", took), logx.Err(err))
		eventbus.Publish(s.bus, eventbus.TypeFailed, ItemEvent{Batch: batch, Name: name, Duration: took, Error: err.Error()})
		return err
	}
	s.log.Debug("deferred finished", logx.String("batch", batch), logx.String("name", name), logx.Duration("took", took))
	eventbus.Publish(s.bus, eventbus.TypeFinished, ItemEvent{Batch: batch, Name: name, Duration: took})
	return nil
}

func (s *Sequential) EndExecution(_ context.Context, x *deferral.Executable) error {
	took := time.Since(x.Created())
	s.log.Info("batch finished", logx.String("batch", x.ID()), logx.Int("count", x.Len()), logx.Duration("since_created", took))
	eventbus.Publish(s.bus, eventbus.TypeBatchFinished, BatchEvent{Batch: x.ID(), Count: x.Len(), Duration: took})
	return nil
}

func batchID(ctx context.Context) string {
	if x, ok := deferral.FromContext(ctx); ok {
		return x.ID()
	}
	return ""
}
