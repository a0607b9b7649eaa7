package lt

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/layout-tester/expectations"
	"github.com/ethereum-optimism/infra/layout-tester/flags"
	"github.com/ethereum-optimism/infra/layout-tester/registry"
	"github.com/ethereum-optimism/infra/layout-tester/service"
	"github.com/ethereum/go-ethereum/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration. It is built once from the
// command line and not modified afterwards.
type Config struct {
	Driver         string   // Absolute path of the test shell
	DriverArgs     []string // Extra arguments for every driver
	LayoutTestsDir string   // Overrides the suite file when set
	SuiteConfig    string   // Optional YAML corpus description
	ResultsDir     string
	Paths          []string // Requested tests, directories or globs
	TestLists      []string

	Platform string
	Debug    bool

	Workers       int
	Timeout       time.Duration // Zero leaves the timeout to the driver
	RunSingly     bool
	FullyParallel bool
	RunChunk      *registry.Slice
	RunPart       *registry.Slice
	Force         bool
	Randomize     bool
	Seed          uint64
	PixelTests    bool
	NewBaseline   bool
	NoRetry       bool
	KillAllOnHang bool

	FuzzyChannelTolerance uint8
	FuzzyPixelRatio       float64

	DrainInterval    time.Duration
	ShowProgress     bool
	ProgressInterval time.Duration

	FullResultsHTML bool
	BuilderName     string
	BuildNumber     string

	HTTPServerCmd  string
	HTTPServerPort int

	Service service.Config
	Log     log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	driver, err := resolveDriver(ctx.String(flags.Driver.Name))
	if err != nil {
		return nil, err
	}

	resultsDir := ctx.String(flags.ResultsDirectory.Name)
	if resultsDir == "" {
		resultsDir = "layout-test-results"
	}
	resultsDir, err = filepath.Abs(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for results directory '%s': %w", resultsDir, err)
	}

	layoutTestsDir := ctx.String(flags.LayoutTestsDir.Name)
	if layoutTestsDir != "" {
		if layoutTestsDir, err = filepath.Abs(layoutTestsDir); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for layout tests directory: %w", err)
		}
	}
	suiteConfig := ctx.String(flags.SuiteConfig.Name)
	if suiteConfig != "" {
		if suiteConfig, err = filepath.Abs(suiteConfig); err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for suite config '%s': %w", suiteConfig, err)
		}
	}
	if layoutTestsDir == "" && suiteConfig == "" {
		return nil, errors.New("either --layout-tests-dir or --suite-config is required")
	}

	platform := ctx.String(flags.Platform.Name)
	if platform == "" {
		platform = HostPlatform()
	}
	if !slices.Contains(expectations.Platforms, platform) {
		return nil, fmt.Errorf("unknown platform %q, must be one of %v", platform, expectations.Platforms)
	}

	runChunk, err := parseSlice(ctx.String(flags.RunChunk.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid --run-chunk: %w", err)
	}
	runPart, err := parseSlice(ctx.String(flags.RunPart.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid --run-part: %w", err)
	}

	workers := ctx.Int(flags.Workers.Name)
	if workers < 0 {
		return nil, fmt.Errorf("workers cannot be negative")
	}
	if ctx.Bool(flags.KillAllDriversOnHang.Name) && !ctx.Bool(flags.RunSingly.Name) {
		log.Warn("--kill-all-drivers-on-hang only applies to --run-singly")
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)

	return &Config{
		Driver:                driver,
		DriverArgs:            ctx.StringSlice(flags.DriverArgs.Name),
		LayoutTestsDir:        layoutTestsDir,
		SuiteConfig:           suiteConfig,
		ResultsDir:            resultsDir,
		Paths:                 ctx.Args().Slice(),
		TestLists:             ctx.StringSlice(flags.TestList.Name),
		Platform:              platform,
		Debug:                 ctx.Bool(flags.Debug.Name) || ctx.String(flags.Target.Name) == flags.TargetDebug,
		Workers:               workers,
		Timeout:               time.Duration(ctx.Int(flags.TimeOutMs.Name)) * time.Millisecond,
		RunSingly:             ctx.Bool(flags.RunSingly.Name),
		FullyParallel:         ctx.Bool(flags.FullyParallel.Name),
		RunChunk:              runChunk,
		RunPart:               runPart,
		Force:                 ctx.Bool(flags.Force.Name),
		Randomize:             ctx.Bool(flags.RandomizeOrder.Name),
		Seed:                  ctx.Uint64(flags.Seed.Name),
		PixelTests:            !ctx.Bool(flags.NoPixelTests.Name),
		NewBaseline:           ctx.Bool(flags.NewBaseline.Name),
		NoRetry:               ctx.Bool(flags.NoRetryFailures.Name),
		KillAllOnHang:         ctx.Bool(flags.KillAllDriversOnHang.Name),
		FuzzyChannelTolerance: uint8(ctx.Uint(flags.FuzzyChannelTolerance.Name)),
		FuzzyPixelRatio:       ctx.Float64(flags.FuzzyPixelRatio.Name),
		DrainInterval:         ctx.Duration(flags.DrainInterval.Name),
		ShowProgress:          ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval:      ctx.Duration(flags.ProgressInterval.Name),
		FullResultsHTML:       ctx.Bool(flags.FullResultsHTML.Name),
		BuilderName:           ctx.String(flags.BuilderName.Name),
		BuildNumber:           ctx.String(flags.BuildNumber.Name),
		HTTPServerCmd:         ctx.String(flags.HTTPServerCmd.Name),
		HTTPServerPort:        ctx.Int(flags.HTTPServerPort.Name),
		Service: service.Config{
			HealthzAddr:    ctx.String(flags.HealthzAddr.Name),
			DisableHealthz: ctx.Bool(flags.HealthzDisabled.Name),
			MetricsAddr:    net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort)),
			DisableMetrics: !metricsCfg.Enabled,
		},
		Log: log,
	}, nil
}

// resolveDriver finds the driver binary. A driver that cannot be found fails
// the run before any test is scheduled.
func resolveDriver(driver string) (string, error) {
	if driver == "" {
		return "", errors.New("driver binary is required")
	}
	path, err := exec.LookPath(driver)
	if err != nil {
		return "", fmt.Errorf("driver binary %q not found: %w", driver, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for driver '%s': %w", driver, err)
	}
	return abs, nil
}

func parseSlice(v string) (*registry.Slice, error) {
	if v == "" {
		return nil, nil
	}
	s, err := registry.ParseSlice(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// HostPlatform maps the operating system to the platform names used by
// expectations and baselines
func HostPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return "mac"
	case "windows":
		return "win"
	default:
		return "linux"
	}
}
