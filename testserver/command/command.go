package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	defaultReadyTimeout = 30 * time.Second
	defaultStopTimeout  = 10 * time.Second
	pollInterval        = 100 * time.Millisecond
	dialTimeout         = time.Second
)

// Config describes a server run as an external command
type Config struct {
	Log log.Logger
	// Command is the command line, split on whitespace
	Command string
	// Dir is the working directory of the command
	Dir string
	// Addrs are host:port pairs that must accept connections before the
	// server counts as started
	Addrs        []string
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
}

// Server runs a test server command
type Server struct {
	cfg    Config
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// New returns a server that is not yet started
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Server{cfg: cfg}
}

// Start runs the command and waits until every address accepts connections
func (s *Server) Start(ctx context.Context) error {
	args := strings.Fields(s.cfg.Command)
	if len(args) == 0 {
		return fmt.Errorf("test server command is empty")
	}
	if s.cmd != nil {
		return fmt.Errorf("test server already started")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = s.cfg.Dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	s.cfg.Log.Info("Starting test server", "command", cmd.String(), "addrs", s.cfg.Addrs)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start test server: %w", err)
	}
	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		s.err = cmd.Wait()
		close(s.exited)
	}()

	if err := s.waitReady(ctx); err != nil {
		_ = s.Stop(ctx)
		return err
	}
	s.cfg.Log.Info("Test server ready", "command", s.cfg.Command)
	return nil
}

func (s *Server) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(s.cfg.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if s.ready() {
			return nil
		}
		select {
		case <-s.exited:
			return fmt.Errorf("test server exited before it was ready: %v", s.err)
		case <-deadline.C:
			return fmt.Errorf("test server not ready after %s", s.cfg.ReadyTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ready reports whether every address accepts connections
func (s *Server) ready() bool {
	for _, addr := range s.cfg.Addrs {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			return false
		}
		conn.Close()
	}
	return true
}

// Stop interrupts the command and kills it if it does not exit in time
func (s *Server) Stop(ctx context.Context) error {
	if s.cmd == nil {
		return nil
	}
	defer func() { s.cmd = nil }()

	select {
	case <-s.exited:
		return nil
	default:
	}

	s.cfg.Log.Info("Stopping test server", "command", s.cfg.Command)
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.cfg.Log.Warn("Failed to interrupt test server", "error", err)
	}
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill test server: %w", err)
	}
	<-s.exited
	return nil
}
