package deferral

import (
	"context"
	"fmt"

	logx "procrastinator/pkg/logx"
)

// Manager is the mutable registry of deferreds.
type Manager struct {
	sched Scheduler
	exec  Executor
	log   logx.Logger

	// order tracks first-insertion order; items holds the current value per name.
	order []string
	items map[string]Deferred
}

type Option func(*Manager)

func WithLogger(log logx.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager returns an empty registry. sched and exec are shared by every
// snapshot the manager produces.
func NewManager(sched Scheduler, exec Executor, opts ...Option) *Manager {
	m := &Manager{
		sched: sched,
		exec:  exec,
		items: map[string]Deferred{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

// Register stores d under d.Name(), replacing any deferred already registered
// under that name. The replaced entry keeps its original position.
func (m *Manager) Register(d Deferred) *Manager {
	name := d.Name()
	if _, ok := m.items[name]; !ok {
		m.order = append(m.order, name)
	} else {
		m.log.Debug("deferred replaced", logx.String("name", name))
	}
	m.items[name] = d
	return m
}

func (m *Manager) Has(name string) bool {
	_, ok := m.items[name]
	return ok
}

func (m *Manager) Get(name string) (Deferred, error) {
	d, ok := m.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d, nil
}

func (m *Manager) Len() int { return len(m.order) }

// Names returns registered names in registration order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.order...)
}

// NewDeferred returns a new Builder bound to m. Every call allocates a fresh
// builder.
func (m *Manager) NewDeferred() *Builder {
	return &Builder{mgr: m}
}

// Schedule freezes the registry into an Executable and hands it to the
// Scheduler.
//
// An empty registry yields (nil, nil) without calling the Scheduler.
// Otherwise the registry is emptied before the Scheduler runs, so a Scheduler
// error is returned together with the snapshot and nothing is restored.
// Callers that need the work to survive a failed Schedule must re-register
// from the returned snapshot.
func (m *Manager) Schedule(ctx context.Context) (*Executable, error) {
	if len(m.order) == 0 {
		return nil, nil
	}
	e := m.freeze()

	m.log.Debug("snapshot scheduled", logx.Int("count", e.Len()), logx.Strings("names", e.Names()))
	if err := m.sched.Schedule(ctx, e); err != nil {
		m.log.Warn("schedule failed", logx.Int("count", e.Len()), logx.Err(err))
		return e, err
	}
	return e, nil
}

func (m *Manager) freeze() *Executable {
	list := make([]Deferred, 0, len(m.order))
	for _, name := range m.order {
		list = append(list, m.items[name])
	}
	m.order = nil
	m.items = map[string]Deferred{}
	return newExecutable(list, m.exec)
}
