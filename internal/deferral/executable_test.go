package deferral

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteIsRepeatable(t *testing.T) {
	exec := &recorder{}
	e := NewExecutable(exec, &stubDeferred{name: "a"}, &stubDeferred{name: "b"})

	require.NoError(t, e.Execute(context.Background()))
	require.NoError(t, e.Execute(context.Background()))

	want := []string{"start", "execute:a", "execute:b", "end"}
	assert.Equal(t, append(append([]string(nil), want...), want...), exec.calls)
}

func TestExecuteStopsOnStartError(t *testing.T) {
	exec := &recorder{startErr: errors.New("no slot")}
	e := NewExecutable(exec, &stubDeferred{name: "a"})

	err := e.Execute(context.Background())
	assert.Same(t, exec.startErr, err)
	assert.Equal(t, []string{"start"}, exec.calls)
}

func TestExecuteStopsOnItemError(t *testing.T) {
	boom := errors.New("boom")
	exec := &recorder{execErr: map[string]error{"b": boom}}
	e := NewExecutable(exec, &stubDeferred{name: "a"}, &stubDeferred{name: "b"}, &stubDeferred{name: "c"})

	err := e.Execute(context.Background())
	assert.Same(t, boom, err)
	assert.Equal(t, []string{"start", "execute:a", "execute:b"}, exec.calls)
}

func TestAllReturnsCopy(t *testing.T) {
	a := &stubDeferred{name: "a"}
	e := NewExecutable(&recorder{}, a)

	all := e.All()
	all[0] = &stubDeferred{name: "x"}
	assert.Same(t, a, e.All()[0])
}

func TestNewExecutableCopiesInput(t *testing.T) {
	items := []Deferred{&stubDeferred{name: "a"}}
	e := NewExecutable(&recorder{}, items...)
	items[0] = &stubDeferred{name: "x"}

	assert.Equal(t, []string{"a"}, e.Names())
}

func TestEmptyExecutableStillBrackets(t *testing.T) {
	exec := &recorder{}
	e := NewExecutable(exec)

	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, []string{"start", "end"}, exec.calls)
	assert.Zero(t, e.Len())
}

type ctxProbe struct {
	recorder
	seen []*Executable
}

func (p *ctxProbe) Execute(ctx context.Context, d Deferred) error {
	e, _ := FromContext(ctx)
	p.seen = append(p.seen, e)
	return p.recorder.Execute(ctx, d)
}

func TestExecutorSeesSnapshotInContext(t *testing.T) {
	p := &ctxProbe{}
	e := NewExecutable(p, &stubDeferred{name: "a"}, &stubDeferred{name: "b"})

	require.NoError(t, e.Execute(context.Background()))
	require.Len(t, p.seen, 2)
	assert.Same(t, e, p.seen[0])
	assert.Same(t, e, p.seen[1])

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestSnapshotIDsAreUnique(t *testing.T) {
	a := NewExecutable(&recorder{})
	b := NewExecutable(&recorder{})
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.False(t, a.Created().IsZero())
}
