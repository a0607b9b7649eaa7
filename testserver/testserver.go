// Package testserver manages the servers some layout tests need, such as the
// HTTP and WebSocket test servers. What the servers speak is up to them; this
// package only starts them before the tests that need them and stops them
// afterwards.
package testserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/layout-tester/testserver/command"
	"github.com/ethereum/go-ethereum/log"
)

// Server is a test server with a start/stop life cycle
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts and stops a set of servers as one
type Manager struct {
	servers []Server
	started []Server
}

type managerCfg struct {
	log     log.Logger
	servers []Server
}

type Option func(*managerCfg)

// WithCommand adds a server run as an external command
func WithCommand(cfg command.Config) Option {
	return func(m *managerCfg) {
		if cfg.Log == nil {
			cfg.Log = m.log
		}
		m.servers = append(m.servers, command.New(cfg))
	}
}

// WithServer adds an already constructed server
func WithServer(s Server) Option {
	return func(m *managerCfg) {
		m.servers = append(m.servers, s)
	}
}

// NewManager returns a manager for the configured servers. A manager without
// servers is valid and does nothing.
func NewManager(logger log.Logger, opts ...Option) *Manager {
	cfg := &managerCfg{log: logger}
	if cfg.log == nil {
		cfg.log = log.New()
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Manager{servers: cfg.servers}
}

// Len returns the number of managed servers
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.servers)
}

// Start starts every server in order. If one fails, those already started are
// stopped again.
func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	for i, s := range m.servers {
		if err := s.Start(ctx); err != nil {
			stopErr := m.Stop(ctx)
			return errors.Join(fmt.Errorf("failed to start test server %d: %w", i, err), stopErr)
		}
		m.started = append(m.started, s)
	}
	return nil
}

// Stop stops the started servers in reverse order
func (m *Manager) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		if err := m.started[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.started = nil
	return errors.Join(errs...)
}
