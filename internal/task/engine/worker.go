package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"procrastinator/internal/eventbus"
	logx "procrastinator/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask, limiter *rate.Limiter) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					s.finish(qt, ErrStopped)
					return
				}
			}
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()

	t := qt.task
	if maxDelay > 0 && queueDelay > maxDelay {
		s.onStaleDropped(start, t, queueDelay)
		s.record(HistoryItem{ID: t.ID, Name: t.Name, Batch: t.Batch, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		s.finish(qt, fmt.Errorf("%s: dropped after %s in queue", t.Name, queueDelay))
		return
	}

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("batch", t.Batch), logx.Duration("queue_delay", queueDelay))
	eventbus.Publish(s.bus, eventbus.TypeStarted, TaskEvent{ID: t.ID, Name: t.Name, Batch: t.Batch, Started: start, QueueDelay: queueDelay})

	runCtx := ctx
	var cancel context.CancelFunc
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	// One bad task must not kill the worker.
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = t.Run(runCtx)
	}()
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Batch: t.Batch, Started: start, Duration: dur, QueueDelay: queueDelay}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Batch: t.Batch, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.String("batch", t.Batch), logx.Err(err), logx.Duration("dur", dur))
		eventbus.Publish(s.bus, eventbus.TypeFailed, ev)
	} else {
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", t.Name), logx.String("batch", t.Batch), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", t.Name), logx.String("batch", t.Batch), logx.Duration("dur", dur))
		}
		eventbus.Publish(s.bus, eventbus.TypeFinished, ev)
	}

	s.record(item)
	s.finish(qt, err)
}
