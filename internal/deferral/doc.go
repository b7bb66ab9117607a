// Package deferral holds named units of work until they are frozen into an
// executable snapshot.
//
// A Manager is a mutable registry keyed by name (last write wins). Schedule
// freezes its contents, in registration order, into an Executable bound to the
// manager's Executor, empties the registry and hands the snapshot to the
// Scheduler exactly once. The Scheduler decides when Executable.Execute runs;
// Execute drives the Executor through StartExecution, one Execute per deferred
// and EndExecution.
//
// Manager and Executable do no locking. Callers sharing a Manager across
// goroutines must synchronize access themselves.
package deferral
