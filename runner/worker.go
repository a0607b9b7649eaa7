package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/checkers"
	"github.com/ethereum-optimism/infra/layout-tester/metrics"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkerState is where a worker is in its life cycle
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerDequeuing
	WorkerDriverStarting
	WorkerDriverReady
	WorkerDispatching
	WorkerAwaitingResult
	WorkerDriverCrashed
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerDequeuing:
		return "dequeuing"
	case WorkerDriverStarting:
		return "driver-starting"
	case WorkerDriverReady:
		return "driver-ready"
	case WorkerDispatching:
		return "dispatching"
	case WorkerAwaitingResult:
		return "awaiting-result"
	case WorkerDriverCrashed:
		return "driver-crashed"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// WorkerConfig holds what a worker needs to run shards
type WorkerConfig struct {
	ID       int
	Log      log.Logger
	Launcher DriverLauncher
	Checkers []checkers.Checker
	Results  *ResultQueue
	Progress ProgressIndicator
	// Attempt is stamped on every record: 0 for the first pass, 1 for the retry
	Attempt     int
	NewBaseline bool
	// RunSingly starts a fresh driver for every test and enforces a hard timeout
	RunSingly bool
	// OnHang, if set, replaces killing the driver's own process group when a
	// test exceeds its hard timeout
	OnHang func(ctx context.Context) error
}

// Worker owns at most one driver and runs shards from a WorkQueue on it, one
// test at a time. A Worker is not safe for concurrent use except for State.
type Worker struct {
	cfg    WorkerConfig
	log    log.Logger
	tracer trace.Tracer
	state  atomic.Int32
	driver Driver
}

// NewWorker validates cfg and returns an idle worker
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("launcher cannot be nil")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result queue cannot be nil")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	return &Worker{
		cfg:    cfg,
		log:    cfg.Log.New("workerID", cfg.ID),
		tracer: otel.Tracer("layout runner"),
	}, nil
}

// ID returns the worker's index in the pool
func (w *Worker) ID() int {
	return w.cfg.ID
}

// State returns the current state. Safe to call from any goroutine.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// Run pops shards until the queue is drained or ctx is cancelled. A non-nil
// error is an infrastructure fault that must abort the run; test failures are
// only ever reported as records.
func (w *Worker) Run(ctx context.Context, queue *WorkQueue) error {
	w.log.Debug("Worker starting")
	defer w.log.Debug("Worker exiting")
	defer w.setState(WorkerStopped)
	defer w.stopDriver()

	for {
		w.setState(WorkerDequeuing)
		shard, ok := queue.Pop(ctx)
		if !ok {
			return nil
		}
		if err := w.runShard(ctx, shard); err != nil {
			return err
		}
		w.setState(WorkerIdle)
	}
}

func (w *Worker) runShard(ctx context.Context, shard types.Shard) error {
	ctx, span := w.tracer.Start(ctx, fmt.Sprintf("shard %s", shard.Key))
	defer span.End()
	span.SetAttributes(
		attribute.Int("worker", w.cfg.ID),
		attribute.Int("tests", len(shard.Tests)),
		attribute.Int("attempt", w.cfg.Attempt),
	)

	w.cfg.Progress.StartShard(w.cfg.ID, shard)
	w.log.Debug("Running shard", "shard", shard.Key, "tests", len(shard.Tests))

	if w.cfg.RunSingly {
		return w.runShardSingly(ctx, shard)
	}

	if err := w.startDriver(ctx); err != nil {
		w.log.Error("Failed to start driver, failing shard", "shard", shard.Key, "error", err)
		metrics.RecordErrorDetails("driver_spawn", err)
		for _, tc := range shard.Tests {
			w.push(tc, []types.Failure{types.NewCrash(err.Error())}, 0, nil)
		}
		return nil
	}
	defer w.stopDriver()

	for _, tc := range shard.Tests {
		// Cancellation is honoured between tests; what is left is not run
		if ctx.Err() != nil {
			w.log.Debug("Context cancelled, abandoning shard", "shard", shard.Key)
			return nil
		}
		if w.driver == nil {
			if err := w.startDriver(ctx); err != nil {
				w.log.Error("Failed to restart driver", "test", tc.RelPath, "error", err)
				w.push(tc, []types.Failure{types.NewCrash(err.Error())}, 0, nil)
				continue
			}
		}
		if err := w.runTest(tc); err != nil {
			return err
		}
	}
	return nil
}

// runTest runs one test on the worker's persistent driver
func (w *Worker) runTest(tc types.TestCase) error {
	start := time.Now()
	w.cfg.Progress.StartTest(tc.RelPath)

	w.setState(WorkerDispatching)
	args, err := w.testArgs(w.driver)
	if err != nil {
		return err
	}

	w.setState(WorkerAwaitingResult)
	out, args, err := w.driver.Run(tc.URI, args)
	if err != nil {
		w.killDriver()
		return fmt.Errorf("worker %d: test %s: %w", w.cfg.ID, tc.RelPath, err)
	}

	failures, err := w.check(tc, out, args)
	if err != nil {
		return err
	}
	rec := w.push(tc, failures, time.Since(start), out)

	if out.Crashed || out.TimedOut {
		w.setState(WorkerDriverCrashed)
		w.log.Warn("Driver failed, killing it", "test", tc.RelPath, "classification", rec.Classification)
		metrics.RecordDriverRestart(rec.Classification)
		w.killDriver()
		return nil
	}
	w.setState(WorkerDriverReady)
	return nil
}

// testArgs returns a fresh copy of the test arguments for one test. A stale
// image left by the previous test is removed so it cannot be mistaken for
// this test's output.
func (w *Worker) testArgs(d Driver) (types.TestArgs, error) {
	args := types.TestArgs{PNGPath: d.PNGPath(), NewBaseline: w.cfg.NewBaseline}
	if args.PNGPath != "" {
		if err := os.Remove(args.PNGPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return args, fmt.Errorf("failed to remove stale image %s: %w", args.PNGPath, err)
		}
	}
	return args, nil
}

// check turns driver output into failures. A crash or timeout is final:
// the output is incomplete, so the checkers do not run and write nothing.
func (w *Worker) check(tc types.TestCase, out *types.DriverOutput, args types.TestArgs) ([]types.Failure, error) {
	var failures []types.Failure
	if out.Crashed {
		failures = append(failures, types.NewCrash(out.Detail))
	}
	if out.TimedOut {
		failures = append(failures, types.NewTimeout(out.Detail))
	}
	if len(failures) > 0 {
		return failures, nil
	}

	for _, c := range w.cfg.Checkers {
		found, err := c.Check(tc, out, args)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %s checker failed on %s: %w", w.cfg.ID, c.Name(), tc.RelPath, err)
		}
		failures = append(failures, found...)
	}
	return failures, nil
}

// push records the outcome of a test and hands it to the coordinator
func (w *Worker) push(tc types.TestCase, failures []types.Failure, elapsed time.Duration, out *types.DriverOutput) *types.ResultRecord {
	rec := types.NewResultRecord(tc, w.cfg.Attempt, failures, elapsed)
	rec.WorkerID = w.cfg.ID
	if out != nil {
		rec.Output = out.Text
		rec.Stderr = out.Stderr
		rec.StderrTruncated = out.StderrTruncated
	}
	if len(failures) > 0 {
		w.log.Info("Test failed", "test", tc.RelPath, "classification", rec.Classification, "attempt", w.cfg.Attempt)
	} else {
		w.log.Debug("Test passed", "test", tc.RelPath, "elapsed", elapsed)
	}
	w.cfg.Results.Push(rec)
	w.cfg.Progress.UpdateTest(tc.RelPath, rec.Classification)
	return rec
}

func (w *Worker) startDriver(ctx context.Context) error {
	w.setState(WorkerDriverStarting)
	d, err := w.cfg.Launcher.Launch(ctx, LaunchOptions{WorkerID: w.cfg.ID})
	if err != nil {
		return err
	}
	w.driver = d
	w.setState(WorkerDriverReady)
	return nil
}

// stopDriver lets a healthy driver exit on its own
func (w *Worker) stopDriver() {
	if w.driver == nil {
		return
	}
	if err := w.driver.Close(); err != nil {
		w.log.Warn("Error closing driver", "error", err)
	}
	w.driver = nil
}

func (w *Worker) killDriver() {
	if w.driver == nil {
		return
	}
	if err := w.driver.Kill(); err != nil {
		w.log.Warn("Error killing driver", "error", err)
	}
	w.driver = nil
}
