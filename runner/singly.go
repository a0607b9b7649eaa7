package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/metrics"
	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// hardTimeoutDetail is attached to tests the worker had to kill
const hardTimeoutDetail = "hard timeout"

// HardTimeout is the wall clock limit the worker enforces on a test in
// run-singly mode. It sits well above the driver's own watchdog.
func HardTimeout(tc types.TestCase) time.Duration {
	timeout := tc.Timeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	return HardTimeoutMultiplier * timeout
}

type driverResult struct {
	out  *types.DriverOutput
	args types.TestArgs
	err  error
}

func (w *Worker) runShardSingly(ctx context.Context, shard types.Shard) error {
	for _, tc := range shard.Tests {
		if ctx.Err() != nil {
			w.log.Debug("Context cancelled, abandoning shard", "shard", shard.Key)
			return nil
		}
		if err := w.runTestSingly(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

// runTestSingly runs tc on a driver of its own. If the driver does not
// finish within HardTimeout it is killed and the test is recorded as a
// timeout.
func (w *Worker) runTestSingly(ctx context.Context, tc types.TestCase) error {
	start := time.Now()
	w.cfg.Progress.StartTest(tc.RelPath)

	w.setState(WorkerDriverStarting)
	d, err := w.cfg.Launcher.Launch(ctx, LaunchOptions{WorkerID: w.cfg.ID, Timeout: tc.Timeout, URI: tc.URI})
	if err != nil {
		w.log.Error("Failed to start driver", "test", tc.RelPath, "error", err)
		metrics.RecordErrorDetails("driver_spawn", err)
		w.push(tc, []types.Failure{types.NewCrash(err.Error())}, time.Since(start), nil)
		return nil
	}

	w.setState(WorkerDispatching)
	args, err := w.testArgs(d)
	if err != nil {
		_ = d.Kill()
		return err
	}

	w.setState(WorkerAwaitingResult)
	done := make(chan driverResult, 1)
	go func() {
		out, got, err := d.Run(tc.URI, args)
		done <- driverResult{out: out, args: got, err: err}
	}()

	timer := time.NewTimer(HardTimeout(tc))
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			_ = d.Kill()
			return fmt.Errorf("worker %d: test %s: %w", w.cfg.ID, tc.RelPath, res.err)
		}
		failures, err := w.check(tc, res.out, res.args)
		if err != nil {
			_ = d.Kill()
			return err
		}
		rec := w.push(tc, failures, time.Since(start), res.out)
		if res.out.Crashed || res.out.TimedOut {
			w.setState(WorkerDriverCrashed)
			metrics.RecordDriverRestart(rec.Classification)
			if err := d.Kill(); err != nil {
				w.log.Warn("Error killing driver", "error", err)
			}
			return nil
		}
		if err := d.Close(); err != nil {
			w.log.Warn("Error closing driver", "error", err)
		}
		w.setState(WorkerDriverReady)
		return nil

	case <-timer.C:
		w.setState(WorkerDriverCrashed)
		w.log.Error("Test exceeded hard timeout, killing driver", "test", tc.RelPath, "timeout", HardTimeout(tc))
		w.killHung(ctx, d)

		out := &types.DriverOutput{TimedOut: true, Detail: hardTimeoutDetail}
		select {
		case res := <-done:
			if res.out != nil {
				out.Stderr, out.StderrTruncated = res.out.Stderr, res.out.StderrTruncated
			}
		case <-time.After(hardKillGrace):
			w.log.Warn("Driver reader did not finish after kill, abandoning it", "test", tc.RelPath)
		}

		rec := w.push(tc, []types.Failure{types.NewTimeout(hardTimeoutDetail)}, time.Since(start), out)
		metrics.RecordDriverRestart(rec.Classification)
		return nil
	}
}

// killHung frees a hung driver. The kill-all hook may take other workers'
// drivers down with it; their tests then show up as crashes.
func (w *Worker) killHung(ctx context.Context, d Driver) {
	if w.cfg.OnHang != nil {
		if err := w.cfg.OnHang(ctx); err != nil {
			w.log.Warn("Failed to kill all drivers", "error", err)
		}
	}
	if err := d.Kill(); err != nil {
		w.log.Warn("Error killing hung driver", "error", err)
	}
}
