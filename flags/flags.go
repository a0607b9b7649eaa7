package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/layout-tester/registry"
	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "LAYOUT_TESTER"

// Build variants accepted by --target
const (
	TargetRelease = "Release"
	TargetDebug   = "Debug"
)

var (
	Driver = &cli.StringFlag{
		Name:     "driver",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "DRIVER"),
		Usage:    "Path to the test shell binary that renders the layout tests",
	}
	DriverArgs = &cli.StringSliceFlag{
		Name:    "driver-arg",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DRIVER_ARG"),
		Usage:   "Extra argument passed to every driver. May be repeated.",
	}
	LayoutTestsDir = &cli.StringFlag{
		Name:    "layout-tests-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LAYOUT_TESTS_DIR"),
		Usage:   "Root of the layout test corpus. Overrides the directory named by --suite-config.",
	}
	SuiteConfig = &cli.StringFlag{
		Name:    "suite-config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITE_CONFIG"),
		Usage:   "Path to a YAML file describing the corpus layout (eg. 'suite.yaml')",
	}
	ResultsDirectory = &cli.StringFlag{
		Name:    "results-directory",
		Value:   "layout-test-results",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DIRECTORY"),
		Usage:   "Directory the logs, artifacts and reports of a run are written to",
	}
	Platform = &cli.StringFlag{
		Name:    "platform",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLATFORM"),
		Usage:   "Platform whose expectations and baselines apply (eg. 'linux', 'mac', 'win'). Defaults to the host.",
	}
	Debug = &cli.BoolFlag{
		Name:    "debug",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBUG"),
		Usage:   "Use the expectations of the debug build. Same as --target=Debug.",
	}
	Target = &cli.StringFlag{
		Name:    "target",
		Value:   TargetRelease,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TARGET"),
		Usage:   fmt.Sprintf("Build variant of the driver, one of: %s, %s", TargetRelease, TargetDebug),
		Action: func(ctx *cli.Context, v string) error {
			return validateTarget(v)
		},
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKERS"),
		Usage:   "Number of drivers run in parallel (0 = one per CPU)",
	}
	TimeOutMs = &cli.IntFlag{
		Name:    "time-out-ms",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIME_OUT_MS"),
		Usage:   "Per-test timeout in milliseconds handed to the driver (0 = driver default). Tests marked SLOW get ten times as long.",
		Action: func(ctx *cli.Context, v int) error {
			if v < 0 {
				return fmt.Errorf("time-out-ms cannot be negative")
			}
			return nil
		},
	}
	RunSingly = &cli.BoolFlag{
		Name:    "run-singly",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_SINGLY"),
		Usage:   "Start a fresh driver for every test",
	}
	FullyParallel = &cli.BoolFlag{
		Name:    "fully-parallel",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FULLY_PARALLEL"),
		Usage:   "Put every test in its own shard instead of grouping them by directory",
	}
	RunChunk = &cli.StringFlag{
		Name:    "run-chunk",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_CHUNK"),
		Usage:   "Run chunk N of length M of the sorted tests, written as N:M",
		Action: func(ctx *cli.Context, v string) error {
			return validateSlice(v)
		},
	}
	RunPart = &cli.StringFlag{
		Name:    "run-part",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_PART"),
		Usage:   "Run part N of M equal parts of the sorted tests, written as N:M",
		Action: func(ctx *cli.Context, v string) error {
			return validateSlice(v)
		},
	}
	Force = &cli.BoolFlag{
		Name:    "force",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORCE"),
		Usage:   "Run tests even if they are marked SKIP",
	}
	RandomizeOrder = &cli.BoolFlag{
		Name:    "randomize-order",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RANDOMIZE_ORDER"),
		Usage:   "Shuffle the tests before sharding",
	}
	Seed = &cli.Uint64Flag{
		Name:    "seed",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SEED"),
		Usage:   "Seed for --randomize-order (0 = derive from the clock)",
	}
	TestList = &cli.StringSliceFlag{
		Name:    "test-list",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_LIST"),
		Usage:   "File listing the tests to run, one per line. May be repeated.",
	}
	NoPixelTests = &cli.BoolFlag{
		Name:    "no-pixel-tests",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NO_PIXEL_TESTS"),
		Usage:   "Only compare the text output of the tests",
	}
	NewBaseline = &cli.BoolFlag{
		Name:    "new-baseline",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NEW_BASELINE"),
		Usage:   "Write the actual results as platform baselines instead of comparing",
	}
	FullResultsHTML = &cli.BoolFlag{
		Name:    "full-results-html",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FULL_RESULTS_HTML"),
		Usage:   "List every failing test in results.html, not just the unexpected ones",
	}
	NoRetryFailures = &cli.BoolFlag{
		Name:    "no-retry-failures",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NO_RETRY_FAILURES"),
		Usage:   "Do not rerun the tests that failed unexpectedly",
	}
	KillAllDriversOnHang = &cli.BoolFlag{
		Name:    "kill-all-drivers-on-hang",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KILL_ALL_DRIVERS_ON_HANG"),
		Usage:   "Kill every process running the driver binary when a driver hangs in run-singly mode",
	}
	FuzzyChannelTolerance = &cli.UintFlag{
		Name:    "fuzzy-channel-tolerance",
		Value:   2,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FUZZY_CHANNEL_TOLERANCE"),
		Usage:   "Largest per-channel difference (0-255) at which two pixels still count as equal",
		Action: func(ctx *cli.Context, v uint) error {
			if v > 255 {
				return fmt.Errorf("fuzzy-channel-tolerance must be at most 255")
			}
			return nil
		},
	}
	FuzzyPixelRatio = &cli.Float64Flag{
		Name:    "fuzzy-pixel-ratio",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FUZZY_PIXEL_RATIO"),
		Usage:   "Largest fraction of differing pixels for an image mismatch to count as fuzzy (0 disables fuzzy matching)",
		Action: func(ctx *cli.Context, v float64) error {
			if v < 0 || v > 1 {
				return fmt.Errorf("fuzzy-pixel-ratio must be between 0 and 1")
			}
			return nil
		},
	}
	DrainInterval = &cli.DurationFlag{
		Name:    "drain-interval",
		Value:   500 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DRAIN_INTERVAL"),
		Usage:   "How often results are collected while the workers run (0 = once at the end)",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while the tests run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	BuilderName = &cli.StringFlag{
		Name:    "builder-name",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILDER_NAME"),
		Usage:   "Name of the bot, keys the history in results.json. No history is kept without it.",
	}
	BuildNumber = &cli.StringFlag{
		Name:    "build-number",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_NUMBER"),
		Usage:   "Build number recorded in results.json",
	}
	HTTPServerCmd = &cli.StringFlag{
		Name:    "http-server-cmd",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HTTP_SERVER_CMD"),
		Usage:   "Command that runs the HTTP test server. Started only when http tests are scheduled.",
	}
	HTTPServerPort = &cli.IntFlag{
		Name:    "http-server-port",
		Value:   8000,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HTTP_SERVER_PORT"),
		Usage:   "Port the HTTP test server listens on, polled until it accepts connections",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Address the healthz server listens on",
	}
	HealthzDisabled = &cli.BoolFlag{
		Name:    "healthz.disabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_DISABLED"),
		Usage:   "Do not start the healthz server",
	}
)

var requiredFlags = []cli.Flag{
	Driver,
}

var optionalFlags = []cli.Flag{
	DriverArgs,
	LayoutTestsDir,
	SuiteConfig,
	ResultsDirectory,
	Platform,
	Debug,
	Target,
	Workers,
	TimeOutMs,
	RunSingly,
	FullyParallel,
	RunChunk,
	RunPart,
	Force,
	RandomizeOrder,
	Seed,
	TestList,
	NoPixelTests,
	NewBaseline,
	FullResultsHTML,
	NoRetryFailures,
	KillAllDriversOnHang,
	FuzzyChannelTolerance,
	FuzzyPixelRatio,
	DrainInterval,
	ShowProgress,
	ProgressInterval,
	BuilderName,
	BuildNumber,
	HTTPServerCmd,
	HTTPServerPort,
	HealthzAddr,
	HealthzDisabled,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	if ctx.IsSet(RunChunk.Name) && ctx.IsSet(RunPart.Name) {
		return fmt.Errorf("flags %s and %s are mutually exclusive", RunChunk.Name, RunPart.Name)
	}
	return opflags.CheckRequiredXor(ctx)
}

// validateTarget checks the value of --target
func validateTarget(v string) error {
	switch v {
	case TargetRelease, TargetDebug:
		return nil
	}
	return fmt.Errorf("target must be one of: %s", strings.Join([]string{TargetRelease, TargetDebug}, ", "))
}

// validateSlice checks an N:M selector, empty meaning unset
func validateSlice(v string) error {
	if v == "" {
		return nil
	}
	_, err := registry.ParseSlice(v)
	return err
}
