package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"procrastinator/internal/deferral"
	"procrastinator/internal/eventbus"
	logx "procrastinator/pkg/logx"
)

// Service runs scheduled snapshots at the next trigger of a cron or interval
// schedule. Snapshots accepted between two triggers run together, in the
// order they were scheduled.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	spec  ParsedSpec
	sched cron.Schedule

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	pending []*deferral.Executable
	runCtx  context.Context
	cancel  context.CancelFunc

	batches  atomic.Uint64
	failures atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	spec, err := ParseSchedule(cfg.Spec)
	if err != nil {
		return nil, err
	}
	sched, err := spec.Schedule()
	if err != nil {
		return nil, err
	}
	s := &Service{log: log, bus: bus, spec: spec, sched: sched, cfg: cfg}
	s.loc = s.loadLocationLocked()
	return s, nil
}

// Schedule accepts e for the next trigger.
func (s *Service) Schedule(_ context.Context, e *deferral.Executable) error {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	n := len(s.pending)
	next := s.nextLocked()
	s.mu.Unlock()

	eventbus.Publish(s.bus, eventbus.TypeScheduled, ScheduledEvent{Batch: e.ID(), Names: e.Names(), RunAt: next})
	s.log.Debug("batch scheduled",
		logx.String("batch", e.ID()),
		logx.Int("pending", n),
		logx.Time("next", next),
	)
	return nil
}

// Start begins triggering. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entry = s.c.Schedule(s.sched, cron.FuncJob(s.tick))
	s.c.Start()

	s.log.Info("service started",
		logx.String("spec", s.spec.String()),
		logx.String("tz", s.loc.String()),
		logx.String("next_runs", s.previewNextRunsLocked(3)),
	)
}

// Stop stops triggering and waits for a running tick. When FlushOnStop is set,
// still-pending snapshots are executed before returning; otherwise they are
// discarded.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	flush := s.cfg.FlushOnStop
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	var err error
	if flush {
		err = s.runPending(ctx)
	} else if dropped := s.takePending(); len(dropped) > 0 {
		s.log.Warn("discarding pending batches", logx.Int("count", len(dropped)))
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Pending reports how many snapshots wait for the next trigger.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunNow executes pending snapshots immediately without waiting for a trigger.
func (s *Service) RunNow(ctx context.Context) error {
	return s.runPending(ctx)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Running:  s.c != nil,
		Spec:     s.spec.String(),
		Timezone: s.loc.String(),
		Pending:  len(s.pending),
		Batches:  s.batches.Load(),
		Failures: s.failures.Load(),
	}
	if s.c != nil && s.entry != 0 {
		e := s.c.Entry(s.entry)
		snap.Next = e.Next
		snap.Prev = e.Prev
	}
	return snap
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.runPending(ctx)
}

func (s *Service) runPending(ctx context.Context) error {
	batch := s.takePending()
	if len(batch) == 0 {
		return nil
	}
	s.log.Debug("trigger fired", logx.Int("batches", len(batch)))

	var first error
	for _, e := range batch {
		s.batches.Add(1)
		if err := runBatch(ctx, s.log, e); err != nil {
			s.failures.Add(1)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *Service) takePending() []*deferral.Executable {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *Service) nextLocked() time.Time {
	if s.c != nil && s.entry != 0 {
		if e := s.c.Entry(s.entry); !e.Next.IsZero() {
			return e.Next
		}
	}
	return s.sched.Next(time.Now().In(s.loc))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists upcoming trigger times for debug logs. Call with s.mu held.
func (s *Service) previewNextRunsLocked(n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = s.sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
