package runner

import (
	"context"
	"fmt"
	"maps"

	"github.com/ethereum-optimism/infra/layout-tester/metrics"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

// RetryAttempt is the attempt number of the retry pass
const RetryAttempt = 1

// PassRunner executes one pass over a work queue
type PassRunner interface {
	Run(ctx context.Context, queue *WorkQueue, attempt int, consume func([]*types.ResultRecord)) error
}

var _ PassRunner = (*ParallelExecutor)(nil)

// RetryResult tells how the retried tests came out
type RetryResult struct {
	Flaky       []string
	Regressions []string
	NotRun      []string
}

// RetryCoordinator runs the tests that were unexpected on the first pass one
// more time, to tell flaky tests from regressions
type RetryCoordinator struct {
	log        log.Logger
	runner     PassRunner
	aggregator *Aggregator
	consume    func([]*types.ResultRecord)
}

// NewRetryCoordinator returns a coordinator that retries on runner and merges into aggregator
func NewRetryCoordinator(logger log.Logger, runner PassRunner, aggregator *Aggregator) *RetryCoordinator {
	if logger == nil {
		logger = log.New()
	}
	return &RetryCoordinator{
		log:        logger.New("component", "retry"),
		runner:     runner,
		aggregator: aggregator,
		consume:    aggregator.AddAll,
	}
}

// WithConsumer replaces the consumer of the retry pass records. fn must add
// them to the coordinator's aggregator.
func (rc *RetryCoordinator) WithConsumer(fn func([]*types.ResultRecord)) *RetryCoordinator {
	if fn != nil {
		rc.consume = fn
	}
	return rc
}

// Retry reruns exactly the tests in firstPassUnexpected, each in a shard of
// its own, and merges the outcome:
//   - expected on retry: flaky, no longer unexpected
//   - unexpected on retry: regression
//   - not run (cancelled): still unexpected, so a regression
//
// Retrying nothing leaves the summary untouched. An infrastructure fault
// during the pass is returned as is.
func (rc *RetryCoordinator) Retry(ctx context.Context, firstPassUnexpected map[string]types.Classification) (*RetryResult, error) {
	result := &RetryResult{}
	if len(firstPassUnexpected) == 0 {
		return result, nil
	}

	summary := rc.aggregator.Summary()
	summary.FirstPassUnexpected = maps.Clone(firstPassUnexpected)

	names := types.SortedTests(firstPassUnexpected)
	tests := make([]types.TestCase, 0, len(names))
	for _, name := range names {
		tc, ok := summary.Tests[name]
		if !ok {
			return nil, fmt.Errorf("cannot retry unknown test %s", name)
		}
		tests = append(tests, tc)
	}

	rc.log.Info("Retrying unexpected results", "tests", len(tests))
	queue := BuildShards(tests, ShardModeFullyParallel, nil)
	if err := rc.runner.Run(ctx, queue, RetryAttempt, rc.consume); err != nil {
		return nil, fmt.Errorf("retry pass failed: %w", err)
	}

	for _, name := range names {
		rec, ok := summary.Records[types.AttemptKey{Test: name, Attempt: RetryAttempt}]
		switch {
		case !ok:
			summary.NotRun[name] = struct{}{}
			result.NotRun = append(result.NotRun, name)
			result.Regressions = append(result.Regressions, name)
			metrics.RecordRetry(metrics.RetryNotRun)
		case rc.aggregator.IsExpected(name, rec.Classification):
			summary.Flaky[name] = struct{}{}
			result.Flaky = append(result.Flaky, name)
			metrics.RecordRetry(metrics.RetryFlaky)
		default:
			result.Regressions = append(result.Regressions, name)
			metrics.RecordRetry(metrics.RetryRegression)
		}
	}

	rc.log.Info("Retry complete",
		"flaky", len(result.Flaky),
		"regressions", len(result.Regressions),
		"notRun", len(result.NotRun))
	return result, nil
}
