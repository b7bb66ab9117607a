// Package executor holds deferral.Executor implementations.
//
// Sequential runs deferreds inline. Recovering and Recording decorate any
// Executor, including the task engine's, and can be stacked:
//
//	exec := executor.NewRecording(executor.NewRecovering(executor.NewSequential(log, bus), log), store, log)
package executor
