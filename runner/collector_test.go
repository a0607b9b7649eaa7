package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

var (
	textFailure  = []types.Failure{{Kind: types.FailureTextMismatch}}
	crashFailure = []types.Failure{{Kind: types.FailureCrash}}
)

func newTestAggregator(t *testing.T, lines ...string) *Aggregator {
	t.Helper()
	return NewAggregator(testLogger(), parseOracle(t, lines...), types.NewResultSummary("run", "linux", false))
}

func TestAggregatorAdd(t *testing.T) {
	tests := []struct {
		name         string
		test         string
		failures     []types.Failure
		wantClass    types.Classification
		wantExpected bool
	}{
		{name: "pass", test: "fast/a.html", wantClass: types.ClassPass, wantExpected: true},
		{name: "unlisted failure", test: "fast/a.html", failures: textFailure, wantClass: types.ClassText},
		{name: "listed failure", test: "fast/known.html", failures: textFailure, wantClass: types.ClassText, wantExpected: true},
		{name: "listed test fails differently", test: "fast/known.html", failures: crashFailure, wantClass: types.ClassCrash},
		{name: "listed test passes", test: "fast/known.html", wantClass: types.ClassPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := newTestAggregator(t, "BUG1 : fast/known.html = TEXT")
			got := agg.Add(types.NewResultRecord(testCase(tt.test), 0, tt.failures, 5*time.Millisecond))
			assert.Equal(t, tt.wantExpected, got)

			s := agg.Summary()
			assert.Equal(t, tt.wantClass, s.Results[tt.test])
			assert.Equal(t, 5*time.Millisecond, s.Timings[tt.test])
			assert.Equal(t, 1, s.Count(tt.wantClass))
			if tt.wantExpected {
				assert.NotContains(t, s.Unexpected, tt.test)
			} else {
				assert.Equal(t, tt.wantClass, s.Unexpected[tt.test])
			}
		})
	}
}

func TestAggregatorLaterAttemptReplaces(t *testing.T) {
	agg := newTestAggregator(t)
	tc := testCase("fast/flaky.html")
	agg.Schedule([]types.TestCase{tc})

	assert.False(t, agg.Add(types.NewResultRecord(tc, 0, crashFailure, 0)))
	assert.Equal(t, types.ClassCrash, agg.Summary().Unexpected[tc.RelPath])

	assert.True(t, agg.Add(types.NewResultRecord(tc, 1, nil, 0)))
	s := agg.Summary()
	assert.Equal(t, types.ClassPass, s.Results[tc.RelPath])
	assert.Empty(t, s.Unexpected)
	assert.Equal(t, 0, s.Count(types.ClassCrash))
	assert.Len(t, s.Records, 2, "both attempts are kept")
}

func TestAggregatorDuplicateKeepsLatest(t *testing.T) {
	agg := newTestAggregator(t)
	tc := testCase("fast/a.html")
	agg.Add(types.NewResultRecord(tc, 0, nil, 0))
	agg.Add(types.NewResultRecord(tc, 0, textFailure, 0))

	s := agg.Summary()
	require.Len(t, s.Records, 1)
	assert.Equal(t, types.ClassText, s.Records[types.AttemptKey{Test: tc.RelPath}].Classification)
	assert.Equal(t, types.ClassText, s.Results[tc.RelPath])
}

func TestAggregatorTimelines(t *testing.T) {
	agg := newTestAggregator(t, "BUG1 : fast/known.html = TEXT")
	agg.Schedule(testCases("fast/known.html", "fast/new.html"))

	s := agg.Summary()
	assert.Equal(t, types.TimelineFixable, s.TimelineOf("fast/known.html"))
	assert.Equal(t, types.TimelineNow, s.TimelineOf("fast/new.html"))
	assert.Len(t, s.Tests, 2)
}

func TestAggregatorSkip(t *testing.T) {
	agg := newTestAggregator(t, "BUG1 SKIP : fast/skip.html = TEXT")
	agg.Skip(testCases("fast/skip.html"))

	s := agg.Summary()
	assert.Contains(t, s.Skipped, "fast/skip.html")
	assert.Equal(t, types.ClassSkip, s.Results["fast/skip.html"])
	assert.Empty(t, s.Unexpected)
	assert.Equal(t, types.TimelineFixable, s.TimelineOf("fast/skip.html"))
}

func TestAggregatorMarkNotRun(t *testing.T) {
	agg := newTestAggregator(t)
	tests := testCases("fast/c.html", "fast/a.html", "fast/b.html")
	agg.Schedule(tests)
	agg.Add(types.NewResultRecord(tests[2], 0, nil, 0))

	notRun := agg.MarkNotRun(tests, 0)
	assert.Equal(t, []string{"fast/a.html", "fast/c.html"}, notRun)
	assert.Len(t, agg.Summary().NotRun, 2)

	// A record arriving later takes the test out of the not-run set
	agg.Add(types.NewResultRecord(tests[0], 1, nil, 0))
	assert.NotContains(t, agg.Summary().NotRun, "fast/c.html")

	assert.Empty(t, agg.MarkNotRun(tests[2:], 0))
}

func TestAggregatorFinalize(t *testing.T) {
	agg := newTestAggregator(t, "BUG1 : fast/known.html = TEXT")
	agg.AddAll([]*types.ResultRecord{
		types.NewResultRecord(testCase("fast/known.html"), 0, textFailure, 0),
		types.NewResultRecord(testCase("fast/broken.html"), 0, crashFailure, 0),
		types.NewResultRecord(testCase("fast/fine.html"), 0, nil, 0),
	})
	agg.Finalize()

	s := agg.Summary()
	assert.Equal(t, map[string]struct{}{"fast/broken.html": {}}, s.Regressions)
	assert.Equal(t, 1, s.RegressionCount())
}
