package systemdmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	a, err := ParseAction("")
	require.NoError(t, err)
	assert.Equal(t, ActionRestart, a)

	a, err = ParseAction(" Reload ")
	require.NoError(t, err)
	assert.Equal(t, ActionReload, a)

	_, err = ParseAction("kill")
	assert.Error(t, err)
}

func TestUnitName(t *testing.T) {
	assert.Equal(t, "nginx.service", UnitName("nginx"))
	assert.Equal(t, "backup.timer", UnitName("backup.timer"))
	assert.Equal(t, "my.app.service", UnitName("my.app"))
	assert.Equal(t, "", UnitName("  "))
}

func TestJobError(t *testing.T) {
	err := &JobError{Unit: "x.service", Action: ActionStart, Result: "failed"}
	assert.Equal(t, "failed to start x.service: job failed", err.Error())
}
