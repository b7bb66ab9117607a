// Package systemd drives units through the systemctl binary. It is the
// fallback when the system bus cannot be reached.
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"procrastinator/pkg/systemdmanager"
)

// Binary is the systemctl executable invoked by Run and IsActive.
var Binary = "systemctl"

func IsActive(ctx context.Context, unit string) (bool, error) {
	cmd := exec.CommandContext(ctx, Binary, "is-active", systemdmanager.UnitName(unit))
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// is-active returns non-zero when inactive; treat as not active
		return strings.TrimSpace(string(out)) == "active", nil
	}
	return strings.TrimSpace(string(out)) == "active", nil
}

// Runner runs unit jobs with "systemctl <action> <unit>". After start and
// restart it checks that the unit is active.
type Runner struct{}

func (Runner) Run(ctx context.Context, action systemdmanager.Action, unit string) error {
	name := systemdmanager.UnitName(unit)
	out, err := exec.CommandContext(ctx, Binary, string(action), name).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("systemctl %s %s: %w: %s", action, name, err, msg)
		}
		return fmt.Errorf("systemctl %s %s: %w", action, name, err)
	}
	switch action {
	case systemdmanager.ActionStart, systemdmanager.ActionRestart:
		active, err := IsActive(ctx, name)
		if err != nil {
			return err
		}
		if !active {
			return fmt.Errorf("systemctl %s %s: unit not active afterwards", action, name)
		}
	}
	return nil
}
