package lt

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/layout-tester/flags"
	"github.com/ethereum-optimism/infra/layout-tester/registry"
)

// parseConfig runs args through the real flag set and returns what NewConfig makes of them
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg    *Config
		cfgErr error
	)
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			cfg, cfgErr = NewConfig(ctx, log.New())
			return nil
		},
	}
	if err := app.Run(append([]string{"layout-tester"}, args...)); err != nil {
		return nil, err
	}
	return cfg, cfgErr
}

func fakeDriverPath(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "test_shell")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0755))
	return p
}

func TestNewConfig(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("driver lookup relies on the executable bit")
	}
	driver := fakeDriverPath(t)
	layout := t.TempDir()

	cfg, err := parseConfig(t,
		"--driver", driver,
		"--layout-tests-dir", layout,
		"--results-directory", filepath.Join(layout, "out"),
		"--platform", "mac",
		"--target", flags.TargetDebug,
		"--workers", "3",
		"--time-out-ms", "2500",
		"--run-chunk", "1:10",
		"--no-pixel-tests",
		"--driver-arg=--enable-foo",
		"--fuzzy-pixel-ratio", "0.02",
		"--builder-name", "Webkit",
		"--metrics.enabled",
		"--metrics.port", "9999",
		"fast/js", "fast/css/a.html",
	)
	require.NoError(t, err)

	assert.Equal(t, driver, cfg.Driver)
	assert.Equal(t, layout, cfg.LayoutTestsDir)
	assert.Equal(t, filepath.Join(layout, "out"), cfg.ResultsDir)
	assert.Equal(t, "mac", cfg.Platform)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, &registry.Slice{N: 1, M: 10}, cfg.RunChunk)
	assert.Nil(t, cfg.RunPart)
	assert.False(t, cfg.PixelTests)
	assert.Equal(t, []string{"--enable-foo"}, cfg.DriverArgs)
	assert.Equal(t, 0.02, cfg.FuzzyPixelRatio)
	assert.Equal(t, uint8(2), cfg.FuzzyChannelTolerance)
	assert.Equal(t, "Webkit", cfg.BuilderName)
	assert.Equal(t, []string{"fast/js", "fast/css/a.html"}, cfg.Paths)
	assert.False(t, cfg.Service.DisableMetrics)
	assert.Equal(t, "0.0.0.0:9999", cfg.Service.MetricsAddr)
}

func TestNewConfigDefaults(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("driver lookup relies on the executable bit")
	}
	cfg, err := parseConfig(t, "--driver", fakeDriverPath(t), "--layout-tests-dir", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, HostPlatform(), cfg.Platform)
	assert.False(t, cfg.Debug)
	assert.True(t, cfg.PixelTests)
	assert.True(t, filepath.IsAbs(cfg.ResultsDir))
	assert.Equal(t, "layout-test-results", filepath.Base(cfg.ResultsDir))
	assert.True(t, cfg.Service.DisableMetrics)
	assert.Empty(t, cfg.Paths)
}

func TestNewConfigErrors(t *testing.T) {
	layout := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing driver", args: []string{"--layout-tests-dir", layout}},
		{name: "driver not found", args: []string{"--driver", filepath.Join(layout, "nope"), "--layout-tests-dir", layout}},
		{name: "no corpus", args: []string{"--driver", "/bin/sh"}},
		{name: "unknown platform", args: []string{"--driver", "/bin/sh", "--layout-tests-dir", layout, "--platform", "beos"}},
		{name: "chunk and part", args: []string{"--driver", "/bin/sh", "--layout-tests-dir", layout, "--run-chunk", "0:5", "--run-part", "1:2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestHostPlatform(t *testing.T) {
	want := map[string]string{"darwin": "mac", "windows": "win"}[runtime.GOOS]
	if want == "" {
		want = "linux"
	}
	assert.Equal(t, want, HostPlatform())
}
