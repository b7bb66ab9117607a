package systemd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procrastinator/pkg/systemdmanager"
)

// fakeSystemctl installs a shell script as Binary that logs its arguments.
func fakeSystemctl(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	log := filepath.Join(dir, "calls")
	script := "#!/bin/sh\necho \"$@\" >> " + log + "\n" + body + "\n"
	bin := filepath.Join(dir, "systemctl")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	prev := Binary
	Binary = bin
	t.Cleanup(func() { Binary = prev })
	return log
}

func TestRunnerInvokesSystemctl(t *testing.T) {
	log := fakeSystemctl(t, "exit 0")

	require.NoError(t, Runner{}.Run(context.Background(), systemdmanager.ActionReload, "nginx"))
	b, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Equal(t, "reload nginx.service", strings.TrimSpace(string(b)))
}

func TestRunnerChecksActiveAfterRestart(t *testing.T) {
	log := fakeSystemctl(t, `[ "$1" = "is-active" ] && { echo failed; exit 3; }; exit 0`)

	err := Runner{}.Run(context.Background(), systemdmanager.ActionRestart, "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")

	b, rerr := os.ReadFile(log)
	require.NoError(t, rerr)
	assert.Equal(t, []string{"restart web.service", "is-active web.service"}, strings.Split(strings.TrimSpace(string(b)), "\n"))
}

func TestRunnerStartsActiveUnit(t *testing.T) {
	fakeSystemctl(t, `[ "$1" = "is-active" ] && echo active; exit 0`)
	require.NoError(t, Runner{}.Run(context.Background(), systemdmanager.ActionStart, "web"))
}

func TestRunnerReportsOutput(t *testing.T) {
	fakeSystemctl(t, "echo 'Unit nope.service not found.' >&2; exit 5")

	err := Runner{}.Run(context.Background(), systemdmanager.ActionStart, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestIsActive(t *testing.T) {
	fakeSystemctl(t, `[ "$2" = "web.service" ] && { echo active; exit 0; }; echo inactive; exit 3`)

	ok, err := IsActive(context.Background(), "web")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsActive(context.Background(), "db")
	require.NoError(t, err)
	assert.False(t, ok)
}
