package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// mockPassRunner answers a pass with canned failures per test. Tests missing
// from outcomes produce no record.
type mockPassRunner struct {
	mock.Mock
	outcomes map[string][]types.Failure
}

func (m *mockPassRunner) Run(ctx context.Context, queue *WorkQueue, attempt int, consume func([]*types.ResultRecord)) error {
	args := m.Called(ctx, queue.NumTests(), attempt)
	var batch []*types.ResultRecord
	for {
		shard, ok := queue.Pop(ctx)
		if !ok {
			break
		}
		for _, tc := range shard.Tests {
			if failures, ok := m.outcomes[tc.RelPath]; ok {
				batch = append(batch, types.NewResultRecord(tc, attempt, failures, 0))
			}
		}
	}
	consume(batch)
	return args.Error(0)
}

// firstPass runs the given first pass outcomes through agg and returns the unexpected set
func firstPass(agg *Aggregator, outcomes map[string][]types.Failure) map[string]types.Classification {
	for test, failures := range outcomes {
		tc := testCase(test)
		agg.Schedule([]types.TestCase{tc})
		agg.Add(types.NewResultRecord(tc, 0, failures, 0))
	}
	unexpected := make(map[string]types.Classification, len(agg.Summary().Unexpected))
	for k, v := range agg.Summary().Unexpected {
		unexpected[k] = v
	}
	return unexpected
}

func TestRetryCoordinator(t *testing.T) {
	agg := newTestAggregator(t, "BUG1 : fast/known.html = TEXT")
	unexpected := firstPass(agg, map[string][]types.Failure{
		"fast/flaky.html":   crashFailure,
		"fast/broken.html":  textFailure,
		"fast/lost.html":    crashFailure,
		"fast/known.html":   textFailure,
		"fast/passing.html": nil,
	})
	require.Len(t, unexpected, 3)

	runner := &mockPassRunner{outcomes: map[string][]types.Failure{
		"fast/flaky.html":  nil,
		"fast/broken.html": textFailure,
	}}
	runner.On("Run", mock.Anything, 3, RetryAttempt).Return(nil)

	res, err := NewRetryCoordinator(testLogger(), runner, agg).Retry(context.Background(), unexpected)
	require.NoError(t, err)
	runner.AssertExpectations(t)

	assert.Equal(t, []string{"fast/flaky.html"}, res.Flaky)
	assert.Equal(t, []string{"fast/broken.html", "fast/lost.html"}, res.Regressions)
	assert.Equal(t, []string{"fast/lost.html"}, res.NotRun)

	s := agg.Summary()
	assert.Equal(t, unexpected, s.FirstPassUnexpected)
	assert.Contains(t, s.Flaky, "fast/flaky.html")
	assert.NotContains(t, s.Unexpected, "fast/flaky.html")
	assert.Equal(t, types.ClassPass, s.Results["fast/flaky.html"])
	assert.Contains(t, s.Unexpected, "fast/lost.html")
	assert.Contains(t, s.NotRun, "fast/lost.html")
	assert.NotContains(t, s.Records, types.AttemptKey{Test: "fast/known.html", Attempt: RetryAttempt},
		"expected failures are not retried")
}

func TestRetryCoordinatorNothingToRetry(t *testing.T) {
	agg := newTestAggregator(t)
	runner := &mockPassRunner{}

	res, err := NewRetryCoordinator(testLogger(), runner, agg).Retry(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Flaky)
	assert.Empty(t, res.Regressions)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetryCoordinatorPassError(t *testing.T) {
	agg := newTestAggregator(t)
	unexpected := firstPass(agg, map[string][]types.Failure{"fast/a.html": crashFailure})

	runner := &mockPassRunner{}
	runner.On("Run", mock.Anything, 1, RetryAttempt).Return(errors.New("driver desync"))

	_, err := NewRetryCoordinator(testLogger(), runner, agg).Retry(context.Background(), unexpected)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry pass failed")
}

func TestRetryCoordinatorUnknownTest(t *testing.T) {
	agg := newTestAggregator(t)
	_, err := NewRetryCoordinator(testLogger(), &mockPassRunner{}, agg).
		Retry(context.Background(), map[string]types.Classification{"fast/ghost.html": types.ClassCrash})
	assert.Error(t, err)
}

func TestRetryCoordinatorWithConsumer(t *testing.T) {
	agg := newTestAggregator(t)
	unexpected := firstPass(agg, map[string][]types.Failure{"fast/a.html": crashFailure})

	runner := &mockPassRunner{outcomes: map[string][]types.Failure{"fast/a.html": nil}}
	runner.On("Run", mock.Anything, 1, RetryAttempt).Return(nil)

	var seen int
	rc := NewRetryCoordinator(testLogger(), runner, agg).WithConsumer(func(recs []*types.ResultRecord) {
		seen += len(recs)
		agg.AddAll(recs)
	})
	res, err := rc.Retry(context.Background(), unexpected)
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
	assert.Equal(t, []string{"fast/a.html"}, res.Flaky)
}
