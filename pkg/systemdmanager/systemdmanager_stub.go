//go:build !linux

package systemdmanager

import "context"

type Manager struct{}

func NewContext(ctx context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() error { return nil }

func (m *Manager) Run(ctx context.Context, action Action, unit string) error {
	return ErrUnsupported
}
