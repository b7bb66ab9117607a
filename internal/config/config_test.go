package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  mode: timed
  spec: "*/5 * * * *"
  timezone: UTC
task_engine:
  enabled: true
  workers: 4
  default_timeout: 30s
storage:
  driver: file
  path: ./runs
  retain: 100
deferreds:
  - name: rotate
    command: logrotate
    args: ["-f", "/etc/logrotate.conf"]
    timeout: 1m
  - name: flush
    command: sync
  - name: reload-nginx
    unit: nginx
    action: reload
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, ModeTimed, cfg.Scheduler.Mode)
	require.NotNil(t, cfg.TaskEngine)
	assert.Equal(t, 4, cfg.TaskEngine.Workers)
	require.Len(t, cfg.Deferreds, 3)
	assert.Equal(t, "nginx", cfg.Deferreds[2].Unit)
	assert.Equal(t, []string{"-f", "/etc/logrotate.conf"}, cfg.Deferreds[0].Args)
	assert.Same(t, cfg, m.Get())
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{"scheduler":{"mode":"immediate"},"telegram":{}}`))
	_, err := m.Load()
	assert.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"deferreds":[]} {}`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Mode: ModeImmediate},
			Deferreds: []DeferredConfig{{Name: "a", Command: "true"}},
		}
	}
	require.NoError(t, Validate(context.Background(), ok()))

	tests := []struct {
		name string
		mut  func(c *Config)
	}{
		{"unknown mode", func(c *Config) { c.Scheduler.Mode = "later" }},
		{"timed without spec", func(c *Config) { c.Scheduler.Mode = ModeTimed }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }},
		{"negative workers", func(c *Config) { c.TaskEngine = &TaskEngineConfig{Workers: -1} }},
		{"bad engine timeout", func(c *Config) { c.TaskEngine = &TaskEngineConfig{DefaultTimeout: "soon"} }},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }},
		{"missing name", func(c *Config) { c.Deferreds = append(c.Deferreds, DeferredConfig{Command: "x"}) }},
		{"duplicate name", func(c *Config) { c.Deferreds = append(c.Deferreds, DeferredConfig{Name: "a", Command: "x"}) }},
		{"missing command", func(c *Config) { c.Deferreds[0].Command = "" }},
		{"command and unit", func(c *Config) { c.Deferreds[0].Unit = "nginx" }},
		{"bad unit action", func(c *Config) { c.Deferreds[0] = DeferredConfig{Name: "a", Unit: "nginx", Action: "kill"} }},
		{"bad admin timeout", func(c *Config) { c.Admin = &AdminConfig{ReadTimeout: "fast"} }},
		{"negative timeout", func(c *Config) { c.Deferreds[0].Timeout = "-1s" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ok()
			tt.mut(c)
			assert.Error(t, Validate(context.Background(), c))
		})
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"deferreds":[{"name":"a","command":"true"}]}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	require.NoError(t, os.WriteFile(path, []byte(`{"deferreds":[{"name":"b","command":"true"}]}`), 0o644))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)

	cfg := <-ch
	assert.Equal(t, "b", cfg.Deferreds[0].Name)
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	path := writeFile(t, "config.json", `{}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	before := m.Get()

	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"mode":"bogus"}}`), 0o644))
	published, err := m.Reload(context.Background())
	assert.Error(t, err)
	assert.False(t, published)
	assert.Same(t, before, m.Get())
}

func TestSlowSubscriberGetsLatest(t *testing.T) {
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestWatchPicksUpFileChange(t *testing.T) {
	path := writeFile(t, "config.yaml", "deferreds: []\n")
	m := NewManager(path)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("deferreds:\n  - name: x\n    command: \"true\"\n"), 0o644))

	select {
	case cfg := <-ch:
		require.Len(t, cfg.Deferreds, 1)
		assert.Equal(t, "x", cfg.Deferreds[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Deferreds: []DeferredConfig{{Name: "a", Command: "x"}, {Name: "b", Command: "y"}}}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Mode: ModeQueue},
		Deferreds: []DeferredConfig{{Name: "a", Command: "x"}, {Name: "c", Command: "z"}},
	}
	sections, attrs, names := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"deferreds", "scheduler"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"b", "c"}, names)

	sections, _, names = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
	assert.Empty(t, names)
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationField("x", "45")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	_, err = ParseDurationField("x", "-2s")
	assert.Error(t, err)
	_, err = ParseDurationField("x", "-3")
	assert.Error(t, err)
	_, err = ParseDurationField("x", "soon")
	assert.Error(t, err)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("/etc/p/config.YML"))
	assert.Equal(t, FormatYAML, FormatOf("config.yaml"))
	assert.Equal(t, FormatJSON, FormatOf("config.json"))
	assert.Equal(t, FormatJSON, FormatOf("config"))
}

func TestDecodeRejectsNonStringYAMLKeys(t *testing.T) {
	_, err := Decode("c.yaml", []byte("deferreds:\n  - name: a\n    command: x\n    1: oops\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deferreds[0]")
}
