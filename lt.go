package lt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/layout-tester/checkers"
	"github.com/ethereum-optimism/infra/layout-tester/exitcodes"
	"github.com/ethereum-optimism/infra/layout-tester/expectations"
	"github.com/ethereum-optimism/infra/layout-tester/logging"
	"github.com/ethereum-optimism/infra/layout-tester/registry"
	"github.com/ethereum-optimism/infra/layout-tester/reporting"
	"github.com/ethereum-optimism/infra/layout-tester/runner"
	"github.com/ethereum-optimism/infra/layout-tester/service"
	"github.com/ethereum-optimism/infra/layout-tester/testlist"
	"github.com/ethereum-optimism/infra/layout-tester/testserver"
	"github.com/ethereum-optimism/infra/layout-tester/testserver/command"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

const (
	httpServerReadyTimeout = 30 * time.Second
	httpServerStopTimeout  = 10 * time.Second
)

// tester implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &tester{}

// tester performs one layout test run and reports it.
type tester struct {
	config  *Config
	version string
	runID   string

	executor   TestExecutor
	formatter  ResultFormatter
	reporter   MetricsReporter
	fileLogger *logging.FileLogger
	svc        *service.Service

	summary *types.ResultSummary
	stopped atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New wires the registry, expectations, driver launcher, checkers and report
// sinks of a run. Nothing is started until Start.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*tester, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("logger is required")
	}

	runID := uuid.New().String()
	config.Log.Debug("Creating layout tester",
		"runID", runID,
		"driver", config.Driver,
		"layoutTestsDir", config.LayoutTestsDir,
		"suiteConfig", config.SuiteConfig,
		"resultsDir", config.ResultsDir,
		"platform", config.Platform,
		"debug", config.Debug)

	reg, err := registry.NewRegistry(registry.Config{
		Log:             config.Log,
		SuiteConfigFile: config.SuiteConfig,
		LayoutTestsDir:  config.LayoutTestsDir,
		Platform:        config.Platform,
		DefaultTimeout:  config.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	oracle, err := expectations.Load(config.Log, reg.ExpectationFiles())
	if err != nil {
		return nil, fmt.Errorf("failed to load expectations: %w", err)
	}

	fileLogger, err := newFileLogger(config, reg, runID)
	if err != nil {
		return nil, err
	}

	launcher, err := runner.NewProcessLauncher(runner.LauncherConfig{
		Log:        config.Log,
		Binary:     config.Driver,
		ExtraArgs:  config.DriverArgs,
		ResultsDir: config.ResultsDir,
		PixelTests: config.PixelTests,
		Timeout:    config.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create driver launcher: %w", err)
	}

	var fuzzy *checkers.FuzzyMatcher
	if config.FuzzyPixelRatio > 0 {
		fuzzy = &checkers.FuzzyMatcher{
			ChannelTolerance: config.FuzzyChannelTolerance,
			PixelRatio:       config.FuzzyPixelRatio,
		}
	}

	paths := append([]string(nil), config.Paths...)
	listed, err := testlist.ReadTestLists(config.TestLists)
	if err != nil {
		return nil, fmt.Errorf("failed to read test lists: %w", err)
	}
	paths = append(paths, listed...)

	seed := config.Seed
	if config.Randomize && seed == 0 {
		seed = uint64(time.Now().UnixNano())
		config.Log.Info("Randomizing test order", "seed", seed)
	}

	runnerCfg := runner.Config{
		Log:      config.Log,
		Tests:    reg,
		Oracle:   oracle,
		Launcher: launcher,
		Checkers: checkers.New(checkers.Config{
			Log:         config.Log,
			ResultsDir:  config.ResultsDir,
			Baselines:   reg,
			NewBaseline: config.NewBaseline,
			PixelTests:  config.PixelTests,
			Fuzzy:       fuzzy,
		}),
		RecordLogger:  fileLogger,
		RunID:         runID,
		Paths:         paths,
		Platform:      config.Platform,
		Debug:         config.Debug,
		Workers:       config.Workers,
		Timeout:       config.Timeout,
		RunSingly:     config.RunSingly,
		FullyParallel: config.FullyParallel,
		ContainerDirs: reg.Suite().ContainerDirs,
		RunChunk:      config.RunChunk,
		RunPart:       config.RunPart,
		Force:         config.Force,
		Randomize:     config.Randomize,
		Seed:          seed,
		NewBaseline:   config.NewBaseline,
		NoRetry:       config.NoRetry,
		DrainInterval: config.DrainInterval,
	}
	if config.HTTPServerCmd != "" {
		runnerCfg.HTTPServer = testserver.NewManager(config.Log, testserver.WithCommand(command.Config{
			Log:          config.Log,
			Command:      config.HTTPServerCmd,
			Dir:          reg.Root(),
			Addrs:        []string{net.JoinHostPort("127.0.0.1", strconv.Itoa(config.HTTPServerPort))},
			ReadyTimeout: httpServerReadyTimeout,
			StopTimeout:  httpServerStopTimeout,
		}))
	}
	if config.ShowProgress {
		runnerCfg.Progress = runner.NewConsoleProgressIndicator(config.Log, config.ProgressInterval)
	}
	if config.KillAllOnHang {
		runnerCfg.OnHang = func(ctx context.Context) error {
			return runner.KillAllDrivers(ctx, config.Log, config.Driver)
		}
	}

	testRunner, err := runner.NewTestRunner(runnerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	config.Log.Info("lt.New: created registry and test runner", "root", reg.Root())

	return &tester{
		config:           config,
		version:          version,
		runID:            runID,
		executor:         NewDefaultTestExecutor(testRunner, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log, os.Stdout),
		reporter:         NewDefaultMetricsReporter(),
		fileLogger:       fileLogger,
		svc:              service.New(config.Service),
		shutdownCallback: shutdownCallback,
	}, nil
}

// newFileLogger builds the record logger together with every report sink
// the configuration asks for
func newFileLogger(config *Config, reg *registry.Registry, runID string) (*logging.FileLogger, error) {
	htmlSink, err := reporting.NewHTMLSink(config.ResultsDir, config.FullResultsHTML, logging.FailureLogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTML sink: %w", err)
	}
	sinks := []logging.ResultSink{
		reporting.NewTextSummarySink(config.ResultsDir, os.Stdout),
		htmlSink,
		reporting.NewUnexpectedResultsSink(config.ResultsDir),
	}
	fileLogger, err := logging.NewFileLogger(config.ResultsDir, runID, sinks...)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	if config.BuilderName != "" {
		root := reg.Root()
		jsonSink, err := reporting.NewJSONResultsSink(config.ResultsDir, reporting.JSONResultsOptions{
			BuilderName: config.BuilderName,
			BuildNumber: config.BuildNumber,
			Exists: func(test string) bool {
				_, err := os.Stat(filepath.Join(root, filepath.FromSlash(test)))
				return err == nil
			},
			Log: config.Log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JSON results sink: %w", err)
		}
		fileLogger.AddSink(jsonSink)
	}
	return fileLogger, nil
}

// Start performs the run and reports it. A run with regressions returns a
// RegressionError carrying the count; infrastructure faults return a
// RuntimeError.
// Start implements the cliapp.Lifecycle interface.
func (t *tester) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with the runtime error code
	defer func() {
		if r := recover(); r != nil {
			t.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	t.config.Log.Info("Starting layout tester", "version", t.version, "runID", t.runID)
	t.svc.Start(ctx)
	t.svc.Healthz.SetRunID(t.runID)

	regressions, err := t.runTests(ctx)
	if err != nil {
		t.svc.Shutdown()
		return err
	}
	if regressions > 0 {
		t.config.Log.Warn("Test run completed with regressions", "regressions", regressions)
		t.svc.Shutdown()
		return NewRegressionError(regressions)
	}

	t.config.Log.Info("Tests completed, exiting")
	go func() {
		t.shutdownCallback(nil)
	}()
	return nil
}

// runTests runs all tests, writes the reports and returns the regression count
func (t *tester) runTests(ctx context.Context) (int, error) {
	summary, err := t.executor.RunTests(ctx)
	if err != nil {
		return 0, NewRuntimeError(err)
	}
	t.summary = summary

	if err := t.fileLogger.Complete(summary); err != nil {
		return 0, NewRuntimeError(fmt.Errorf("failed to write results: %w", err))
	}
	if err := t.formatter.FormatResults(summary); err != nil {
		t.config.Log.Error("Error printing results", "error", err)
	}
	t.reporter.ReportResults(summary)

	t.config.Log.Info("Results written",
		"runID", t.fileLogger.GetRunID(),
		"dir", t.fileLogger.ResultsDir(),
		"allLogs", t.fileLogger.GetAllLogsFile(),
		"failedLogs", t.fileLogger.GetFailedDir())
	return summary.RegressionCount(), nil
}

// Summary returns the summary of the finished run, nil before Start returns
func (t *tester) Summary() *types.ResultSummary {
	return t.summary
}

// Stop stops the layout tester.
// Stop implements the cliapp.Lifecycle interface.
func (t *tester) Stop(ctx context.Context) error {
	if t.stopped.Swap(true) {
		return nil
	}
	t.config.Log.Info("Stopping layout tester")
	t.svc.Shutdown()
	t.config.Log.Info("Layout tester stopped")
	return nil
}

// Stopped returns true if the layout tester is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (t *tester) Stopped() bool {
	return t.stopped.Load()
}
