package deferral

import "errors"

var (
	// ErrNotFound is returned by Manager.Get for names that are not registered.
	ErrNotFound = errors.New("deferred not found")
	// ErrInvalidDeferred is returned by Builder.Build for incomplete deferreds.
	ErrInvalidDeferred = errors.New("invalid deferred")
)
