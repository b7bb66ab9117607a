// Package storage persists execution history.
//
// Only run records are stored (one row per executed deferred). Deferreds
// themselves never outlive the process.
package storage
