package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOutcome struct {
	name      string
	class     types.Classification // empty means not run
	firstPass types.Classification
	timeline  types.Timeline
	skipped   bool
	flaky     bool
	regressed bool
	elapsed   time.Duration
	failures  []types.Failure
}

func buildSummary(outcomes ...testOutcome) *types.ResultSummary {
	s := types.NewResultSummary("run-1", "linux", false)
	s.StartTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Duration = 90 * time.Second
	for _, o := range outcomes {
		tc := types.TestCase{RelPath: o.name, URI: "file:///layout/" + o.name}
		s.Tests[o.name] = tc
		if o.timeline != "" {
			s.SetTimeline(o.name, o.timeline)
		}
		if o.skipped {
			s.Skipped[o.name] = struct{}{}
			continue
		}
		if o.class == "" {
			s.NotRun[o.name] = struct{}{}
			continue
		}
		s.SetResult(o.name, o.class)
		s.Timings[o.name] = o.elapsed
		s.Failures[o.name] = o.failures
		attempt := 0
		if o.firstPass != "" {
			s.FirstPassUnexpected[o.name] = o.firstPass
			attempt = 1
		}
		s.Records[types.AttemptKey{Test: o.name, Attempt: attempt}] = types.NewResultRecord(tc, attempt, o.failures, o.elapsed)
		if o.flaky {
			s.Flaky[o.name] = struct{}{}
		}
		if o.regressed {
			s.Regressions[o.name] = struct{}{}
			s.Unexpected[o.name] = o.class
		}
	}
	return s
}

func sampleSummary() *types.ResultSummary {
	return buildSummary(
		testOutcome{name: "fast/a.html", class: types.ClassPass, elapsed: 200 * time.Millisecond},
		testOutcome{name: "fast/b.html", class: types.ClassText, timeline: types.TimelineFixable,
			failures: []types.Failure{{Kind: types.FailureTextMismatch, ActualPath: "fast/b-actual.txt", ExpectedPath: "fast/b-expected.txt", DiffPath: "fast/b-diff.txt"}}},
		testOutcome{name: "fast/c.html", class: types.ClassCrash, firstPass: types.ClassCrash, regressed: true,
			elapsed: 3 * time.Second, failures: []types.Failure{types.NewCrash("")}},
		testOutcome{name: "fast/d.html", class: types.ClassPass, firstPass: types.ClassTimeout, flaky: true},
		testOutcome{name: "fast/e.html", skipped: true, timeline: types.TimelineIgnored},
		testOutcome{name: "fast/f.html", class: types.ClassTimeout, timeline: types.TimelineIgnored,
			failures: []types.Failure{types.NewTimeout("")}},
	)
}

func TestReportBuilder(t *testing.T) {
	data := NewReportBuilder().
		WithLogPathGenerator(func(test string, attempt int) string {
			return test + "#" + string(rune('0'+attempt))
		}).
		Build(sampleSummary())

	assert.Equal(t, 6, data.Total)
	assert.Equal(t, 1, data.Skipped)
	assert.True(t, data.HasRegressions())

	require.Len(t, data.Regressions, 1)
	assert.Equal(t, "fast/c.html", data.Regressions[0].Name)
	assert.Equal(t, "fast/c.html#1", data.Regressions[0].LogPath)
	require.Len(t, data.Flaky, 1)
	assert.Equal(t, types.ClassTimeout, data.Flaky[0].FirstPass)
	assert.Empty(t, data.Flaky[0].LogPath)

	var failing []string
	for _, item := range data.Failing {
		failing = append(failing, item.Name)
	}
	assert.Equal(t, []string{"fast/b.html", "fast/c.html", "fast/f.html"}, failing)
	assert.Equal(t, types.TimelineFixable, data.Failing[0].Timeline)
}

func TestTextSummaryFormatter(t *testing.T) {
	data := NewReportBuilder().Build(sampleSummary())
	out, err := NewTextSummaryFormatter().Format(data)
	require.NoError(t, err)

	want := strings.Join([]string{
		"",
		"=> Tests to be fixed (1):",
		"  1 test case (100.0%) Text diff mismatch",
		"",
		"=> Tests we want to pass (4):",
		"  2 test cases (50.0%) Passed",
		"  1 test case (25.0%) Test shell crashed",
		"  1 test case (25.0%) Text diff mismatch",
		"",
		"=> All tests (6):",
		"  2 test cases (33.3%) Passed",
		"  1 test case (16.7%) Skipped",
		"  1 test case (16.7%) Test shell crashed",
		"  1 test case (16.7%) Test timed out",
		"  1 test case (16.7%) Text diff mismatch",
		"",
	}, "\n")
	assert.Equal(t, want, out)
}

func TestFormatResultLine(t *testing.T) {
	tests := []struct {
		count, total int
		want         string
	}{
		{1, 4, "1 test case (25.0%) Passed"},
		{3, 4, "3 test cases (75.0%) Passed"},
		{0, 0, "0 test cases (0.0%) Passed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatResultLine(tt.count, tt.total, "Passed"))
		})
	}
}

func TestTextSummarySink(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer
	sink := NewTextSummarySink(dir, &stdout)
	require.NoError(t, sink.Consume(&types.ResultRecord{}, "run-1"))
	require.NoError(t, sink.Complete(sampleSummary(), "run-1"))

	content, err := os.ReadFile(filepath.Join(dir, SummaryFilename))
	require.NoError(t, err)
	assert.Contains(t, string(content), "=> All tests (6):")
	assert.Equal(t, string(content), stdout.String())
}

func TestHTMLSink(t *testing.T) {
	tests := []struct {
		name     string
		full     bool
		summary  *types.ResultSummary
		wantFile bool
		contains []string
		excludes []string
	}{
		{
			name:     "regressions only",
			summary:  sampleSummary(),
			wantFile: true,
			contains: []string{
				"<title>Layout Test Results (2024-03-01T12:00:00Z)</title>",
				"Unexpected Test Failures (1)",
				`href="file:///layout/fast/c.html"`,
				"Test shell crashed",
				`href="failed/fast/c.html"`,
			},
			excludes: []string{"fast/b.html"},
		},
		{
			name:     "full results",
			full:     true,
			summary:  sampleSummary(),
			wantFile: true,
			contains: []string{
				"Test Failures (3)",
				`href="fast/b-actual.txt"`,
				`href="fast/b-expected.txt"`,
				`href="fast/b-diff.txt"`,
				"fast/f.html",
			},
		},
		{
			name: "nothing to list",
			summary: buildSummary(
				testOutcome{name: "fast/a.html", class: types.ClassPass},
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			sink, err := NewHTMLSink(dir, tt.full, func(test string, attempt int) string {
				return "failed/" + test
			})
			require.NoError(t, err)
			require.NoError(t, sink.Complete(tt.summary, "run-1"))

			path := filepath.Join(dir, HTMLFilename)
			if !tt.wantFile {
				assert.NoFileExists(t, path)
				return
			}
			content, err := os.ReadFile(path)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, string(content), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, string(content), s)
			}
		})
	}
}

func TestUnexpectedResultsSink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewUnexpectedResultsSink(dir).Complete(sampleSummary(), "run-1"))

	content, err := os.ReadFile(filepath.Join(dir, UnexpectedFilename))
	require.NoError(t, err)
	want := "Regressions: Unexpected failures (1):\n" +
		"  fast/c.html = CRASH\n" +
		"\nFlaky: Unexpected failures that passed on retry (1):\n" +
		"  fast/d.html = TIMEOUT PASS\n"
	assert.Equal(t, want, string(content))
}

func TestTableFormatter(t *testing.T) {
	out, err := NewTableFormatter("Layout Test Results", true).Format(NewReportBuilder().Build(sampleSummary()))
	require.NoError(t, err)
	assert.Contains(t, out, "fast/c.html")
	assert.Contains(t, out, "1 REGRESSIONS")
	assert.Contains(t, out, "Regressions")
	assert.Contains(t, out, "├── fast/b.html")
	assert.Contains(t, out, "│   └── Text diff mismatch")
	assert.Contains(t, out, "└── fast/f.html")
	assert.Contains(t, out, "    └── Test timed out")
}
