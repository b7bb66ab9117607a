package deferral

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Builder assembles a Func deferred.
//
//	m.NewDeferred().Name("flush").Call(flush).Timeout(5 * time.Second).Register()
type Builder struct {
	mgr     *Manager
	name    string
	fn      func(ctx context.Context) error
	timeout time.Duration
}

// NewBuilder returns a builder that is not bound to any Manager.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) Call(fn func(ctx context.Context) error) *Builder {
	b.fn = fn
	return b
}

// Timeout bounds each Run of the built deferred. 0 disables the bound.
func (b *Builder) Timeout(d time.Duration) *Builder {
	if d < 0 {
		d = 0
	}
	b.timeout = d
	return b
}

func (b *Builder) Build() (Deferred, error) {
	name := strings.TrimSpace(b.name)
	if name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidDeferred)
	}
	if b.fn == nil {
		return nil, fmt.Errorf("%w: %s: callback required", ErrInvalidDeferred, name)
	}
	return &Func{name: name, fn: b.fn, timeout: b.timeout}, nil
}

// Register builds the deferred and registers it with the Manager that created
// the builder.
func (b *Builder) Register() (*Manager, error) {
	if b.mgr == nil {
		return nil, fmt.Errorf("%w: builder has no manager", ErrInvalidDeferred)
	}
	d, err := b.Build()
	if err != nil {
		return b.mgr, err
	}
	return b.mgr.Register(d), nil
}
