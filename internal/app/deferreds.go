package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"procrastinator/internal/config"
	"procrastinator/internal/deferral"
	"procrastinator/pkg/systemd"
	"procrastinator/pkg/systemdmanager"
	logx "procrastinator/pkg/logx"
)

// maxOutputTail bounds how much command output is kept in error messages.
const maxOutputTail = 512

// UnitRunner runs systemd unit jobs. *systemdmanager.Manager implements it.
type UnitRunner interface {
	Run(ctx context.Context, action systemdmanager.Action, unit string) error
}

// unitConn connects to systemd on first use so configs without unit
// deferreds never touch D-Bus. When the bus is unreachable it falls back to
// the systemctl binary.
type unitConn struct {
	mu       sync.Mutex
	log      logx.Logger
	mgr      *systemdmanager.Manager
	fallback UnitRunner
}

func (u *unitConn) runner(ctx context.Context) UnitRunner {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mgr != nil {
		return u.mgr
	}
	if u.fallback != nil {
		return u.fallback
	}
	m, err := systemdmanager.NewContext(ctx)
	if err != nil {
		u.log.Warn("systemd dbus unavailable; using systemctl", logx.Err(err))
		u.fallback = systemd.Runner{}
		return u.fallback
	}
	u.mgr = m
	return m
}

func (u *unitConn) Run(ctx context.Context, action systemdmanager.Action, unit string) error {
	return u.runner(ctx).Run(ctx, action, unit)
}

func (u *unitConn) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fallback = nil
	if u.mgr == nil {
		return nil
	}
	err := u.mgr.Close()
	u.mgr = nil
	return err
}

// registerConfigured builds every configured deferred through m's builder
// and registers it, in config order.
func registerConfigured(m *deferral.Manager, defs []config.DeferredConfig, units UnitRunner, log logx.Logger) error {
	for i, dc := range defs {
		timeout, err := config.ParseDurationField(fmt.Sprintf("deferreds[%d].timeout", i), dc.Timeout)
		if err != nil {
			return err
		}
		fn, err := deferredFunc(dc, units, log)
		if err != nil {
			return fmt.Errorf("deferreds[%d] (%s): %w", i, dc.Name, err)
		}
		if _, err := m.NewDeferred().Name(strings.TrimSpace(dc.Name)).Timeout(timeout).Call(fn).Register(); err != nil {
			return fmt.Errorf("deferreds[%d]: %w", i, err)
		}
	}
	return nil
}

func deferredFunc(dc config.DeferredConfig, units UnitRunner, log logx.Logger) (func(context.Context) error, error) {
	if unit := strings.TrimSpace(dc.Unit); unit != "" {
		action, err := systemdmanager.ParseAction(dc.Action)
		if err != nil {
			return nil, err
		}
		if units == nil {
			return nil, systemdmanager.ErrUnsupported
		}
		return func(ctx context.Context) error {
			log.Debug("unit job", logx.String("unit", unit), logx.String("action", string(action)))
			return units.Run(ctx, action, unit)
		}, nil
	}

	name := strings.TrimSpace(dc.Command)
	args := append([]string(nil), dc.Args...)
	env := append([]string(nil), dc.Env...)
	dir := dc.Dir
	return func(ctx context.Context) error {
		return runCommand(ctx, log, name, args, dir, env)
	}, nil
}

func runCommand(ctx context.Context, log logx.Logger, name string, args []string, dir string, env []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	took := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (%v)", ctx.Err(), err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, tail(out, maxOutputTail))
	}
	log.Debug("command finished",
		logx.String("command", name),
		logx.Duration("took", took),
		logx.Int("output_bytes", len(out)),
	)
	return nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
