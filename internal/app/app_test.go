package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procrastinator/internal/config"
	"procrastinator/internal/deferral"
	"procrastinator/pkg/systemdmanager"
	logx "procrastinator/pkg/logx"
)

func appendCmd(out, word string) config.DeferredConfig {
	return config.DeferredConfig{
		Name:    word,
		Command: "sh",
		Args:    []string{"-c", "echo " + word + " >> " + out},
	}
}

func writeConfig(t *testing.T, dir string, cfg *config.Config) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

func startApp(t *testing.T, cfg *config.Config) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	cfg.Logging = config.LoggingConfig{Level: "error"}
	a, err := NewApp(writeConfig(t, dir, cfg))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return a, dir
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopUnknown))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(b))
}

func TestImmediateModeRunsConfiguredCommandsInOrder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	store := filepath.Join(t.TempDir(), "runs")
	a, _ := startApp(t, &config.Config{
		Scheduler: config.SchedulerConfig{Mode: config.ModeImmediate},
		Storage:   &config.StorageConfig{Driver: "file", Path: store},
		Deferreds: []config.DeferredConfig{appendCmd(out, "first"), appendCmd(out, "second")},
	})
	defer stopApp(t, a)

	assert.Equal(t, []string{"first", "second"}, readLines(t, out))
	assert.Empty(t, a.Status().Registered)

	runs, err := a.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "second", runs[0].Name)
	assert.True(t, runs[0].OK())
}

func TestQueueModeRunsOnStop(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	a, _ := startApp(t, &config.Config{
		Scheduler: config.SchedulerConfig{Mode: config.ModeQueue},
		Deferreds: []config.DeferredConfig{appendCmd(out, "later")},
	})

	st := a.Status()
	assert.Equal(t, config.ModeQueue, st.Mode)
	assert.Equal(t, 1, st.Pending)
	assert.Empty(t, readLines(t, out))

	stopApp(t, a)
	assert.Equal(t, []string{"later"}, readLines(t, out))
}

func TestEngineModeWaitsForBatch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	a, _ := startApp(t, &config.Config{
		Scheduler:  config.SchedulerConfig{Mode: config.ModeImmediate},
		TaskEngine: &config.TaskEngineConfig{Enabled: true, Workers: 1, WaitBatch: true},
		Deferreds:  []config.DeferredConfig{appendCmd(out, "a"), appendCmd(out, "b")},
	})
	defer stopApp(t, a)

	assert.Equal(t, []string{"a", "b"}, readLines(t, out))
	st := a.Status()
	require.NotNil(t, st.Engine)
	assert.Len(t, st.Engine.History, 2)
}

func TestFailingCommandDoesNotStopBatch(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	a, _ := startApp(t, &config.Config{
		Deferreds: []config.DeferredConfig{
			{Name: "broken", Command: "sh", Args: []string{"-c", "exit 3"}},
			appendCmd(out, "after"),
		},
	})
	defer stopApp(t, a)
	assert.Equal(t, []string{"after"}, readLines(t, out))
}

func TestManagerRegistersExtraDeferreds(t *testing.T) {
	a, _ := startApp(t, &config.Config{Scheduler: config.SchedulerConfig{Mode: config.ModeQueue}})
	defer stopApp(t, a)

	ran := make(chan string, 1)
	require.NoError(t, a.Manager(func(m *deferral.Manager) error {
		_, err := m.NewDeferred().Name("extra").Call(func(context.Context) error {
			ran <- "extra"
			return nil
		}).Register()
		return err
	}))
	assert.Equal(t, []string{"extra"}, a.Status().Registered)

	x, err := a.Trigger(context.Background())
	require.NoError(t, err)
	require.NotNil(t, x)
	assert.Equal(t, []string{"extra"}, x.Names())

	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, "extra", <-ran)
}

func TestTriggerWithNothingConfigured(t *testing.T) {
	a, _ := startApp(t, &config.Config{})
	defer stopApp(t, a)

	x, err := a.Trigger(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, x)
}

func TestApplyConfigRebuildsPipeline(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	a, _ := startApp(t, &config.Config{
		Scheduler: config.SchedulerConfig{Mode: config.ModeImmediate},
		Deferreds: []config.DeferredConfig{appendCmd(out, "one")},
	})
	defer stopApp(t, a)
	require.Equal(t, []string{"one"}, readLines(t, out))

	a.applyConfig(context.Background(), &config.Config{
		Logging:   config.LoggingConfig{Level: "error"},
		Scheduler: config.SchedulerConfig{Mode: config.ModeQueue},
		Deferreds: []config.DeferredConfig{appendCmd(out, "two")},
	})

	st := a.Status()
	assert.Equal(t, config.ModeQueue, st.Mode)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, []string{"one"}, readLines(t, out))

	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, []string{"one", "two"}, readLines(t, out))
}

func TestRecentRunsWithoutStorage(t *testing.T) {
	a, _ := startApp(t, &config.Config{})
	defer stopApp(t, a)
	_, err := a.RecentRuns(context.Background(), 1)
	assert.Error(t, err)
}

func TestRunCommandReportsOutputTail(t *testing.T) {
	err := runCommand(context.Background(), logx.Nop(), "sh", []string{"-c", "echo oops; exit 3"}, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = runCommand(ctx, logx.Nop(), "sleep", []string{"5"}, "", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeUnits struct {
	calls []string
}

func (f *fakeUnits) Run(_ context.Context, action systemdmanager.Action, unit string) error {
	f.calls = append(f.calls, string(action)+" "+unit)
	return nil
}

func TestUnitDeferred(t *testing.T) {
	units := &fakeUnits{}
	var seen []string
	m := deferral.NewManager(
		deferral.SchedulerFunc(func(ctx context.Context, x *deferral.Executable) error { return x.Execute(ctx) }),
		deferral.ExecutorFuncs{ExecuteFunc: func(ctx context.Context, d deferral.Deferred) error {
			seen = append(seen, d.Name())
			return d.Run(ctx)
		}},
	)
	require.NoError(t, registerConfigured(m, []config.DeferredConfig{
		{Name: "reload-web", Unit: "nginx", Action: "reload"},
		{Name: "bounce", Unit: "worker.service"},
	}, units, logx.Nop()))

	_, err := m.Schedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"reload-web", "bounce"}, seen)
	assert.Equal(t, []string{"reload nginx", "restart worker.service"}, units.calls)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail([]byte(" abc\n"), 5))
	assert.Equal(t, "...def", tail([]byte("abcdef"), 3))
}

func TestAdminServesStatus(t *testing.T) {
	a, _ := startApp(t, &config.Config{
		Scheduler: config.SchedulerConfig{Mode: config.ModeQueue},
		Admin:     &config.AdminConfig{Enabled: true, Addr: "127.0.0.1:0"},
	})
	defer stopApp(t, a)

	addr := a.AdminAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, config.ModeQueue, body["Mode"])
	assert.Equal(t, false, body["StorageEnabled"])
}

func TestQueueModeWithEngineRunsOnStop(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	a, _ := startApp(t, &config.Config{
		Scheduler:  config.SchedulerConfig{Mode: config.ModeQueue},
		TaskEngine: &config.TaskEngineConfig{Enabled: true, Workers: 1},
		Deferreds: []config.DeferredConfig{
			{Name: "slow", Command: "sh", Args: []string{"-c", "sleep 0.3; echo slow >> " + out}},
			appendCmd(out, "after"),
		},
	})
	assert.Empty(t, readLines(t, out))

	stopApp(t, a)
	assert.Equal(t, []string{"slow", "after"}, readLines(t, out))
}

func TestRebuildKeepsPendingRegistrations(t *testing.T) {
	a, _ := startApp(t, &config.Config{Scheduler: config.SchedulerConfig{Mode: config.ModeQueue}})
	defer stopApp(t, a)

	ran := make(chan struct{}, 1)
	require.NoError(t, a.Manager(func(m *deferral.Manager) error {
		_, err := m.NewDeferred().Name("extra").Call(func(context.Context) error {
			ran <- struct{}{}
			return nil
		}).Register()
		return err
	}))

	a.applyConfig(context.Background(), &config.Config{
		Logging:   config.LoggingConfig{Level: "error"},
		Scheduler: config.SchedulerConfig{Mode: config.ModeImmediate},
	})

	assert.Equal(t, config.ModeImmediate, a.Status().Mode)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("extra deferred did not run after rebuild")
	}
	assert.Empty(t, a.Status().Registered)
}

func TestCarryRegisteredKeepsOrder(t *testing.T) {
	noop := deferral.SchedulerFunc(func(context.Context, *deferral.Executable) error { return nil })
	from := deferral.NewManager(noop, deferral.ExecutorFuncs{})
	to := deferral.NewManager(noop, deferral.ExecutorFuncs{})
	for _, n := range []string{"b", "a"} {
		_, err := from.NewDeferred().Name(n).Call(func(context.Context) error { return nil }).Register()
		require.NoError(t, err)
	}
	assert.Equal(t, 2, carryRegistered(from, to))
	assert.Equal(t, []string{"b", "a"}, to.Names())
}
