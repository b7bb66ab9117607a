package scheduler

import (
	"context"
	"fmt"
	"time"

	"procrastinator/internal/deferral"
	logx "procrastinator/pkg/logx"
)

// Config controls the timed scheduler Service.
type Config struct {
	// Spec is the trigger schedule, see ParseSchedule.
	Spec string
	// Timezone is an IANA TZ, e.g. "Asia/Jakarta". Empty means Local.
	Timezone string
	// FlushOnStop executes still-pending snapshots during Stop.
	FlushOnStop bool
}

// ScheduledEvent is published on the event bus when a snapshot is accepted.
type ScheduledEvent struct {
	Batch string    `json:"batch"`
	Names []string  `json:"names"`
	RunAt time.Time `json:"run_at,omitempty"`
}

type Snapshot struct {
	Running  bool
	Spec     string
	Timezone string
	Pending  int
	Next     time.Time
	Prev     time.Time
	Batches  uint64
	Failures uint64
}

// runBatch executes e and logs the outcome.
func runBatch(ctx context.Context, log logx.Logger, e *deferral.Executable) error {
	start := time.Now()
	err := e.Execute(ctx)
	if err != nil {
		log.Warn("batch failed", logx.String("batch", e.ID()), logx.Int("count", e.Len()), logx.Duration("took", time.Since(start)), logx.Err(err))
		return fmt.Errorf("batch %s: %w", e.ID(), err)
	}
	log.Debug("batch executed", logx.String("batch", e.ID()), logx.Int("count", e.Len()), logx.Duration("took", time.Since(start)))
	return nil
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
