package runner

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/checkers"
	"github.com/ethereum-optimism/infra/layout-tester/expectations"
	"github.com/ethereum-optimism/infra/layout-tester/metrics"
	"github.com/ethereum-optimism/infra/layout-tester/registry"
	"github.com/ethereum-optimism/infra/layout-tester/testserver"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// serverStopTimeout bounds how long stopping the HTTP server may take once
// the run is over
const serverStopTimeout = 30 * time.Second

// TestSource turns requested paths into tests
type TestSource interface {
	GatherTests(paths []string) ([]string, error)
	NewTestCase(rel string, timeout time.Duration) (types.TestCase, error)
}

var _ TestSource = (*registry.Registry)(nil)

// RecordLogger receives every record as soon as it has been aggregated
type RecordLogger interface {
	LogRecord(rec *types.ResultRecord) error
}

// expectationsValidator is implemented by oracles that can vet themselves
// against the gathered tests
type expectationsValidator interface {
	Validate(tests []string, platform string, debug bool) error
}

// Config holds everything one run needs. Tests, Oracle and Launcher are required.
type Config struct {
	Log          log.Logger
	Tests        TestSource
	Oracle       expectations.Oracle
	Launcher     DriverLauncher
	Checkers     []checkers.Checker
	HTTPServer   testserver.Server // Started only when an http test is scheduled
	RecordLogger RecordLogger
	Progress     ProgressIndicator

	RunID    string
	Paths    []string // Requested tests, directories or globs; empty runs everything
	Platform string
	Debug    bool

	Workers       int           // Zero means one per CPU
	Timeout       time.Duration // Per-test timeout before the SLOW multiplier
	RunSingly     bool
	FullyParallel bool
	ContainerDirs []string
	RunChunk      *registry.Slice
	RunPart       *registry.Slice
	Force         bool // Run tests marked SKIP
	Randomize     bool
	Seed          uint64
	NewBaseline   bool
	NoRetry       bool
	DrainInterval time.Duration
	OnHang        func(ctx context.Context) error
}

// TestRunner performs one complete run: gather, select, shard, run, retry
type TestRunner struct {
	cfg      Config
	log      log.Logger
	tracer   trace.Tracer
	executor *ParallelExecutor
}

// NewTestRunner validates cfg and builds the worker pool
func NewTestRunner(cfg Config) (*TestRunner, error) {
	if cfg.Tests == nil {
		return nil, fmt.Errorf("test source is required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("expectations oracle is required")
	}
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("driver launcher is required")
	}
	if cfg.RunChunk != nil && cfg.RunPart != nil {
		return nil, fmt.Errorf("run chunk and run part are mutually exclusive")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTestTimeout
	}

	executor, err := NewParallelExecutor(ExecutorConfig{
		Log:           cfg.Log,
		Concurrency:   cfg.Workers,
		DrainInterval: cfg.DrainInterval,
		Launcher:      cfg.Launcher,
		Checkers:      cfg.Checkers,
		Progress:      cfg.Progress,
		NewBaseline:   cfg.NewBaseline,
		RunSingly:     cfg.RunSingly,
		OnHang:        cfg.OnHang,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	cfg.Log.Debug("NewTestRunner()", "runID", cfg.RunID, "platform", cfg.Platform, "debug", cfg.Debug,
		"workers", cfg.Workers, "runSingly", cfg.RunSingly, "fullyParallel", cfg.FullyParallel)

	r := &TestRunner{
		cfg:      cfg,
		log:      cfg.Log,
		tracer:   otel.Tracer("layout runner"),
		executor: executor,
	}
	if tracker, ok := cfg.Progress.(workerTracker); ok {
		tracker.TrackWorkers(r.WorkerStates)
	}
	return r, nil
}

// WorkerStates reports what each worker of the current pass is doing
func (r *TestRunner) WorkerStates() []WorkerState {
	return r.executor.WorkerStates()
}

// Run executes the whole run and returns its summary. Regressions are data
// in the summary; the error is reserved for faults that abort the run.
func (r *TestRunner) Run(ctx context.Context) (*types.ResultSummary, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("run %s", r.cfg.RunID))
	defer span.End()

	summary := types.NewResultSummary(r.cfg.RunID, r.cfg.Platform, r.cfg.Debug)
	aggregator := NewAggregator(r.log, r.cfg.Oracle, summary)
	defer r.cfg.Progress.Stop()

	tests, err := r.gather(ctx, aggregator)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		r.log.Warn("No tests to run", "paths", r.cfg.Paths)
		r.finish(aggregator)
		return summary, nil
	}

	queue := r.shard(ctx, tests)

	stopServer, err := r.startServer(ctx, tests)
	if err != nil {
		return nil, err
	}
	defer stopServer()

	consume := r.consumer(aggregator)

	r.cfg.Progress.StartPhase("tests", len(tests))
	err = r.runPass(ctx, queue, 0, consume)
	r.cfg.Progress.CompletePhase("tests")
	if err != nil {
		return nil, err
	}
	aggregator.MarkNotRun(tests, 0)

	firstPass := maps.Clone(summary.Unexpected)
	summary.FirstPassUnexpected = maps.Clone(firstPass)
	switch {
	case r.cfg.NoRetry:
		r.log.Debug("Retries disabled", "unexpected", len(firstPass))
	case ctx.Err() != nil:
		r.log.Warn("Run cancelled, not retrying unexpected results", "unexpected", len(firstPass))
	case len(firstPass) > 0:
		if err := r.retry(ctx, aggregator, firstPass, consume); err != nil {
			return nil, err
		}
	}

	stopServer()
	r.finish(aggregator)
	return summary, nil
}

func (r *TestRunner) gather(ctx context.Context, aggregator *Aggregator) ([]types.TestCase, error) {
	_, span := r.tracer.Start(ctx, "phase gather")
	defer span.End()

	names, err := r.cfg.Tests.GatherTests(r.cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to gather tests: %w", err)
	}
	if v, ok := r.cfg.Oracle.(expectationsValidator); ok {
		if err := v.Validate(names, r.cfg.Platform, r.cfg.Debug); err != nil {
			return nil, fmt.Errorf("invalid expectations: %w", err)
		}
	}

	// A single explicitly named test runs even when it is marked SKIP
	var skipped []string
	if !r.cfg.Force && len(names) != 1 {
		names, skipped = r.partitionSkipped(names, aggregator)
	}

	names, err = r.selectSlice(names)
	if err != nil {
		return nil, err
	}
	if r.cfg.Randomize {
		r.log.Info("Randomizing test order", "seed", r.cfg.Seed)
		names = registry.Shuffle(names, r.cfg.Seed)
	}

	tests, err := r.testCases(names, aggregator)
	if err != nil {
		return nil, err
	}
	skippedTests, err := r.testCases(skipped, aggregator)
	if err != nil {
		return nil, err
	}
	aggregator.Skip(skippedTests)
	aggregator.Schedule(tests)

	span.SetAttributes(
		attribute.Int("tests", len(tests)),
		attribute.Int("skipped", len(skippedTests)),
	)
	r.log.Info("Gathered tests", "tests", len(tests), "skipped", len(skippedTests))
	return tests, nil
}

func (r *TestRunner) partitionSkipped(names []string, aggregator *Aggregator) (run, skipped []string) {
	for _, name := range names {
		if aggregator.Lookup(name).Has(expectations.ModifierSkip) {
			skipped = append(skipped, name)
			continue
		}
		run = append(run, name)
	}
	return run, skipped
}

func (r *TestRunner) selectSlice(names []string) ([]string, error) {
	switch {
	case r.cfg.RunChunk != nil:
		selected := registry.SelectChunk(names, *r.cfg.RunChunk)
		r.log.Info("Running chunk", "chunk", fmt.Sprintf("%d:%d", r.cfg.RunChunk.N, r.cfg.RunChunk.M), "tests", len(selected), "of", len(names))
		return selected, nil
	case r.cfg.RunPart != nil:
		selected, err := registry.SelectPart(names, *r.cfg.RunPart)
		if err != nil {
			return nil, fmt.Errorf("invalid run part: %w", err)
		}
		r.log.Info("Running part", "part", fmt.Sprintf("%d:%d", r.cfg.RunPart.N, r.cfg.RunPart.M), "tests", len(selected), "of", len(names))
		return selected, nil
	}
	return names, nil
}

func (r *TestRunner) testCases(names []string, aggregator *Aggregator) ([]types.TestCase, error) {
	tests := make([]types.TestCase, 0, len(names))
	for _, name := range names {
		timeout := r.cfg.Timeout
		if aggregator.Lookup(name).Has(expectations.ModifierSlow) {
			timeout *= SlowTimeoutMultiplier
		}
		tc, err := r.cfg.Tests.NewTestCase(name, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare test %s: %w", name, err)
		}
		tests = append(tests, tc)
	}
	return tests, nil
}

func (r *TestRunner) shard(ctx context.Context, tests []types.TestCase) *WorkQueue {
	_, span := r.tracer.Start(ctx, "phase shard")
	defer span.End()

	mode := ShardModeDirectory
	if r.cfg.FullyParallel {
		mode = ShardModeFullyParallel
	}
	queue := BuildShards(tests, mode, r.cfg.ContainerDirs)
	span.SetAttributes(
		attribute.String("mode", mode.String()),
		attribute.Int("shards", queue.Len()),
	)
	r.log.Debug("Sharded tests", "mode", mode, "shards", queue.Len(), "tests", queue.NumTests())
	return queue
}

// startServer starts the HTTP server if any test needs it. The returned func
// stops it and is safe to call more than once.
func (r *TestRunner) startServer(ctx context.Context, tests []types.TestCase) (func(), error) {
	noop := func() {}
	if r.cfg.HTTPServer == nil || !needsHTTP(tests) {
		return noop, nil
	}

	_, span := r.tracer.Start(ctx, "phase start http server")
	defer span.End()

	r.log.Info("Starting HTTP test server")
	if err := r.cfg.HTTPServer.Start(ctx); err != nil {
		metrics.RecordErrorDetails("http_server_start", err)
		return noop, fmt.Errorf("failed to start http server: %w", err)
	}

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverStopTimeout)
		defer cancel()
		r.log.Info("Stopping HTTP test server")
		if err := r.cfg.HTTPServer.Stop(stopCtx); err != nil {
			r.log.Warn("Failed to stop http server", "error", err)
			metrics.RecordErrorDetails("http_server_stop", err)
		}
	}, nil
}

func needsHTTP(tests []types.TestCase) bool {
	for _, tc := range tests {
		if tc.IsHTTP {
			return true
		}
	}
	return false
}

// consumer folds drained records into the aggregator and hands them on to
// the record logger
func (r *TestRunner) consumer(aggregator *Aggregator) func([]*types.ResultRecord) {
	return func(recs []*types.ResultRecord) {
		for _, rec := range recs {
			aggregator.Add(rec)
			if r.cfg.RecordLogger == nil {
				continue
			}
			if err := r.cfg.RecordLogger.LogRecord(rec); err != nil {
				r.log.Error("Failed to log result", "test", rec.Test.RelPath, "attempt", rec.Attempt, "error", err)
				metrics.RecordErrorDetails("result_log", err)
			}
		}
	}
}

func (r *TestRunner) runPass(ctx context.Context, queue *WorkQueue, attempt int, consume func([]*types.ResultRecord)) error {
	ctx, span := r.tracer.Start(ctx, "phase run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("attempt", attempt),
		attribute.Int("shards", queue.Len()),
	)
	return r.executor.Run(ctx, queue, attempt, consume)
}

func (r *TestRunner) retry(ctx context.Context, aggregator *Aggregator, firstPass map[string]types.Classification, consume func([]*types.ResultRecord)) error {
	ctx, span := r.tracer.Start(ctx, "phase retry")
	defer span.End()
	span.SetAttributes(attribute.Int("tests", len(firstPass)))

	r.cfg.Progress.StartPhase("retry", len(firstPass))
	defer r.cfg.Progress.CompletePhase("retry")

	rc := NewRetryCoordinator(r.log, r.executor, aggregator).WithConsumer(consume)
	result, err := rc.Retry(ctx, firstPass)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int("flaky", len(result.Flaky)),
		attribute.Int("regressions", len(result.Regressions)),
	)
	return nil
}

func (r *TestRunner) finish(aggregator *Aggregator) {
	aggregator.Finalize()
	summary := aggregator.Summary()
	summary.Duration = time.Since(summary.StartTime)
	r.log.Info("Run complete",
		"runID", summary.RunID,
		"tests", len(summary.Tests),
		"regressions", summary.RegressionCount(),
		"flaky", len(summary.Flaky),
		"notRun", len(summary.NotRun),
		"duration", summary.Duration)
}
