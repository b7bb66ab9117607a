//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager runs unit jobs over the systemd D-Bus API.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// NewContext connects to the system bus. If ctx is nil, context.Background() is used.
func NewContext(ctx context.Context) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// Run queues action for unit in "replace" mode and waits for the job result.
func (m *Manager) Run(ctx context.Context, action Action, unit string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return fmt.Errorf("systemd connection is closed")
	}

	unit = UnitName(unit)
	done := make(chan string, 1)
	var err error
	switch action {
	case ActionStart:
		_, err = m.conn.StartUnitContext(ctx, unit, "replace", done)
	case ActionStop:
		_, err = m.conn.StopUnitContext(ctx, unit, "replace", done)
	case ActionRestart:
		_, err = m.conn.RestartUnitContext(ctx, unit, "replace", done)
	case ActionReload:
		_, err = m.conn.ReloadUnitContext(ctx, unit, "replace", done)
	default:
		return fmt.Errorf("unknown unit action %q", action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, unit, err)
	}

	select {
	case res := <-done:
		if res != "done" {
			return &JobError{Unit: unit, Action: action, Result: res}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
