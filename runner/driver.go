package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

var _ DriverLauncher = (*processLauncher)(nil)

// Driver is one running test shell. A driver is used by a single worker and
// runs one test at a time.
type Driver interface {
	// Run dispatches uri and reads the output of the test. args is the
	// caller's copy of the test arguments; the returned copy carries anything
	// the driver reported, such as the image hash. The error is non-nil only
	// for faults that make the driver's output untrustworthy.
	Run(uri string, args types.TestArgs) (*types.DriverOutput, types.TestArgs, error)
	// PNGPath is where the driver writes rendered images, empty without pixel tests
	PNGPath() string
	// Kill terminates the driver immediately
	Kill() error
	// Close asks the driver to exit by closing its input
	Close() error
}

// LaunchOptions describes one driver launch
type LaunchOptions struct {
	WorkerID int
	// Timeout overrides the per-test timeout passed to the driver
	Timeout time.Duration
	// URI is passed on the command line in run-singly mode. Nothing is
	// written to the driver's input then.
	URI string
}

// DriverLauncher starts drivers
type DriverLauncher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}

// CmdBuilder builds the driver command. The returned func releases anything
// the builder allocated.
type CmdBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// LauncherConfig configures a process backed DriverLauncher
type LauncherConfig struct {
	Log        log.Logger
	Binary     string
	ExtraArgs  []string
	ResultsDir string
	PixelTests bool
	// Timeout is the per-test timeout handed to the driver with --time-out-ms
	Timeout    time.Duration
	CmdBuilder CmdBuilder
}

type processLauncher struct {
	cfg LauncherConfig
}

// NewProcessLauncher returns a launcher that runs cfg.Binary as a subprocess
func NewProcessLauncher(cfg LauncherConfig) (DriverLauncher, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("driver binary cannot be empty")
	}
	if cfg.PixelTests && cfg.ResultsDir == "" {
		return nil, fmt.Errorf("results directory is required for pixel tests")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = defaultCmdBuilder
	}
	return &processLauncher{cfg: cfg}, nil
}

// defaultCmdBuilder does not tie the driver to ctx: on cancellation the
// in-flight test finishes and the worker stops the driver itself.
func defaultCmdBuilder(_ context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	cmd := exec.Command(name, arg...)
	setProcessGroup(cmd)
	return cmd, func() {}
}

// PNGResultPath returns the image file a worker's driver writes to
func PNGResultPath(resultsDir string, workerID int) string {
	return filepath.Join(resultsDir, fmt.Sprintf(pngResultPattern, workerID))
}

// driverArgs builds the command line of a driver
func (l *processLauncher) driverArgs(opts LaunchOptions) (args []string, pngPath string) {
	args = []string{LayoutTestsFlag}
	if l.cfg.PixelTests {
		pngPath = PNGResultPath(l.cfg.ResultsDir, opts.WorkerID)
		args = append(args, PixelTestsFlag+pngPath)
	}
	timeout := l.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		args = append(args, TimeOutMsFlag+strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	args = append(args, l.cfg.ExtraArgs...)
	if opts.URI != "" {
		args = append(args, opts.URI)
	}
	return args, pngPath
}

func (l *processLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	args, pngPath := l.driverArgs(opts)
	cmd, cleanup := l.cfg.CmdBuilder(ctx, l.cfg.Binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := newTailBuffer(defaultStderrTailBytes)
	cmd.Stderr = stderr
	// Children that inherit stderr must not keep Wait blocked forever
	cmd.WaitDelay = driverCloseGrace

	l.cfg.Log.Debug("Starting driver", "workerID", opts.WorkerID, "command", cmd.String())
	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to start driver %s: %w", l.cfg.Binary, err)
	}

	d := newPipeDriver(stdin, stdout, stderr, pngPath, opts.URI != "")
	d.kill = func() error {
		return killProcessGroup(cmd)
	}
	d.wait = func() error {
		defer cleanup()
		return cmd.Wait()
	}
	return d, nil
}

// pipeDriver speaks the driver protocol over a pair of streams. The process
// behind the streams is reached only through kill and wait.
type pipeDriver struct {
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	stderr  *tailBuffer
	pngPath string
	singly  bool

	kill func() error
	wait func() error

	mu       sync.Mutex
	used     bool
	waitOnce sync.Once
	waitErr  error
}

func newPipeDriver(stdin io.WriteCloser, stdout io.Reader, stderr *tailBuffer, pngPath string, singly bool) *pipeDriver {
	if stderr == nil {
		stderr = newTailBuffer(0)
	}
	return &pipeDriver{
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		stderr:  stderr,
		pngPath: pngPath,
		singly:  singly,
		kill:    func() error { return nil },
		wait:    func() error { return nil },
	}
}

func (d *pipeDriver) PNGPath() string {
	return d.pngPath
}

func (d *pipeDriver) Run(uri string, args types.TestArgs) (*types.DriverOutput, types.TestArgs, error) {
	d.mu.Lock()
	if d.singly && d.used {
		d.mu.Unlock()
		return nil, args, fmt.Errorf("run-singly driver already ran a test")
	}
	d.used = true
	d.mu.Unlock()

	mark := d.stderr.Mark()
	if !d.singly {
		if _, err := io.WriteString(d.stdin, uri+"\n"); err != nil {
			// The driver is gone; that is a crash of this test, not a fault of the run
			out := &types.DriverOutput{
				Crashed: true,
				Detail:  fmt.Sprintf("failed to dispatch test: %v", err),
			}
			out.Stderr, out.StderrTruncated = d.stderr.Since(mark)
			return out, args, nil
		}
	}

	out, args, err := readTestOutput(d.stdout, uri, args)
	if err != nil {
		return nil, args, err
	}
	d.stderr.Settle(stderrSettleIdle, stderrSettleLimit)
	out.Stderr, out.StderrTruncated = d.stderr.Since(mark)
	return out, args, nil
}

func (d *pipeDriver) Kill() error {
	killErr := d.kill()
	waitErr := d.reap()
	if killErr != nil {
		return fmt.Errorf("failed to kill driver: %w", killErr)
	}
	if waitErr != nil && !isExitError(waitErr) {
		return waitErr
	}
	return nil
}

func (d *pipeDriver) Close() error {
	_ = d.stdin.Close()
	done := make(chan error, 1)
	go func() {
		done <- d.reap()
	}()
	select {
	case err := <-done:
		if err != nil && !isExitError(err) {
			return err
		}
		return nil
	case <-time.After(driverCloseGrace):
		return d.Kill()
	}
}

// reap waits for the process exactly once
func (d *pipeDriver) reap() error {
	d.waitOnce.Do(func() {
		d.waitErr = d.wait()
	})
	return d.waitErr
}

// isExitError reports whether err only says the driver exited badly, which is
// expected after a kill
func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
