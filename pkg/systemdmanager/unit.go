package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// Action is a unit job the manager can run.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReload  Action = "reload"
)

// ParseAction normalizes s. Empty means restart.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionRestart, nil
	case ActionStart, ActionStop, ActionRestart, ActionReload:
		return a, nil
	default:
		return "", fmt.Errorf("unknown unit action %q (use start, stop, restart or reload)", s)
	}
}

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "timer", "socket", "target", "mount", "path", "slice", "scope":
			return name
		}
	}
	return name + ".service"
}

// JobError reports a systemd job that finished with a result other than "done".
type JobError struct {
	Unit   string
	Action Action
	Result string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("failed to %s %s: job %s", e.Action, e.Unit, e.Result)
}
