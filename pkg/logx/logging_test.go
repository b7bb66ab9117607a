package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFixedAndCallSiteFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "deferral"))

	log.Info("scheduled", Int("count", 2), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "scheduled", m["message"])
	assert.Equal(t, "deferral", m["comp"])
	assert.EqualValues(t, 2, m["count"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go:")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	assert.NotPanics(t, func() { log.Error("nothing", String("k", "v")) })
	assert.False(t, Nop().IsZero())
}

func TestAlertWriterFiltersByLevelAndRate(t *testing.T) {
	s := &Service{}
	s.Apply(Config{Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 1}})

	var out bytes.Buffer
	w := &alertWriter{svc: s, out: &out}

	_, _ = w.WriteLevel(zerolog.InfoLevel, []byte("info\n"))
	assert.Zero(t, out.Len())

	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte("first\n"))
	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte("second\n"))
	assert.Equal(t, "first\n", out.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus", zerolog.InfoLevel))
}
