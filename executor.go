package lt

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// SummaryRunner performs one run and returns its summary
type SummaryRunner interface {
	Run(ctx context.Context) (*types.ResultSummary, error)
}

// TestExecutor is responsible for running tests.
type TestExecutor interface {
	RunTests(ctx context.Context) (*types.ResultSummary, error)
}

// DefaultTestExecutor implements the TestExecutor interface.
type DefaultTestExecutor struct {
	runner SummaryRunner
	logger log.Logger
}

// NewDefaultTestExecutor creates a new DefaultTestExecutor.
func NewDefaultTestExecutor(runner SummaryRunner, logger log.Logger) *DefaultTestExecutor {
	return &DefaultTestExecutor{
		runner: runner,
		logger: logger,
	}
}

// RunTests runs all tests and returns the summary. Unexpected results are
// part of the summary, only infrastructure faults are errors.
func (e *DefaultTestExecutor) RunTests(ctx context.Context) (*types.ResultSummary, error) {
	e.logger.Info("Running all tests...")
	summary, err := e.runner.Run(ctx)
	if err != nil {
		e.logger.Error("Error running tests", "error", err)
		return nil, err
	}
	e.logger.Info("Test run completed", "run_id", summary.RunID, "regressions", summary.RegressionCount())
	return summary, nil
}
