// Package scheduler provides deferral.Scheduler implementations.
//
//   - Immediate executes a snapshot inside Schedule.
//   - Queue holds snapshots until Flush (typically at shutdown).
//   - Service executes pending snapshots on the next trigger of a cron,
//     interval or HH:MM schedule (robfig/cron).
package scheduler
