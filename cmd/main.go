package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	lt "github.com/ethereum-optimism/infra/layout-tester"
	"github.com/ethereum-optimism/infra/layout-tester/flags"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

// otlpEndpointEnv enables trace export when set
const otlpEndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "layout-tester"
	app.Usage = "Parallel layout test runner"
	app.Description = "layout-tester runs layout tests against a test shell and exits with the number of regressions"
	app.ArgsUsage = "[test paths, directories or globs...]"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		// Regressions exit with their count, everything else is a runtime error
		cli.HandleExitCoder(cli.Exit(err.Error(), lt.ExitCode(err)))
	}

	ctx := context.Background()
	if os.Getenv(otlpEndpointEnv) != "" {
		shutdown, err := otelconfig.ConfigureOpenTelemetry(
			otelconfig.WithServiceName(app.Name),
			otelconfig.WithServiceVersion(app.Version),
		)
		if err != nil {
			log.Crit("Failed to setup open telemetry", "message", err)
		}
		defer shutdown()
	}

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := lt.NewConfig(ctx, log)
	if err != nil {
		return nil, lt.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	tester, err := lt.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, lt.NewRuntimeError(fmt.Errorf("failed to create layout tester: %w", err))
	}

	return tester, nil
}
