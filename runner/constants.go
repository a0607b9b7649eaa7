package runner

import "time"

// Test execution constants
const (
	// DefaultTestTimeout is the per-test timeout the driver uses when none is given
	DefaultTestTimeout = 10 * time.Second

	// HardTimeoutMultiplier scales the per-test timeout into the wall clock
	// limit a worker enforces in run-singly mode
	HardTimeoutMultiplier = 3

	// SlowTimeoutMultiplier scales the per-test timeout of tests marked SLOW
	SlowTimeoutMultiplier = 10

	// DefaultDrainInterval is how often the coordinator drains the result queue
	DefaultDrainInterval = 500 * time.Millisecond

	// hardKillGrace bounds how long a worker waits for a killed driver's reader
	hardKillGrace = 2 * time.Second

	// driverCloseGrace bounds how long a driver gets to exit after stdin is closed
	driverCloseGrace = 5 * time.Second
	// stderrSettleIdle and stderrSettleLimit bound the wait for the stderr copy
	// to catch up after a test's #EOF
	stderrSettleIdle  = 5 * time.Millisecond
	stderrSettleLimit = 50 * time.Millisecond

	// Driver command line
	LayoutTestsFlag = "--layout-tests"
	PixelTestsFlag  = "--pixel-tests="
	TimeOutMsFlag   = "--time-out-ms="

	// pngResultPattern names the per-worker image file in the results directory
	pngResultPattern = "png_result%d.png"

	// HTTPShardKey is the key shared by every test that needs the HTTP server
	HTTPShardKey = "http"

	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32
)
