package command

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

func TestServer(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())

	t.Run("ready once addresses accept connections", func(t *testing.T) {
		s := New(Config{Log: logger, Command: "sleep 30", Addrs: []string{listen(t)}})
		require.NoError(t, s.Start(context.Background()))
		assert.NoError(t, s.Stop(context.Background()))
		// Stopping twice is harmless
		assert.NoError(t, s.Stop(context.Background()))
	})

	t.Run("command exits before ready", func(t *testing.T) {
		s := New(Config{Log: logger, Command: "true", Addrs: []string{"127.0.0.1:1"}})
		err := s.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exited before it was ready")
	})

	t.Run("never ready", func(t *testing.T) {
		s := New(Config{Log: logger, Command: "sleep 30", Addrs: []string{"127.0.0.1:1"}, ReadyTimeout: 300 * time.Millisecond})
		err := s.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not ready after")
	})

	t.Run("empty command", func(t *testing.T) {
		s := New(Config{Log: logger})
		assert.Error(t, s.Start(context.Background()))
	})
}
