// Package reporting turns the summary of a run into the files of the results
// directory and the console report.
package reporting

import (
	"sort"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// ResultLine is one "N test cases (P%) message" line of a summary block
type ResultLine struct {
	Count   int
	Message string
}

// SummaryBlock is the breakdown of one category of tests
type SummaryBlock struct {
	Heading string
	Total   int
	Lines   []ResultLine
}

// ReportTestItem represents a single failing test in the report
type ReportTestItem struct {
	Name           string // Test identity relative to the layout tests root
	URI            string
	Classification types.Classification
	FirstPass      types.Classification // Empty when the test was expected on the first pass
	Timeline       types.Timeline
	Duration       time.Duration
	Failures       []types.Failure
	Regression     bool
	Flaky          bool
	LogPath        string // Relative to the results directory, empty if there is no log
}

// ReportData contains all the structured data needed for any report format
type ReportData struct {
	RunID     string
	Platform  string
	Debug     bool
	Timestamp time.Time
	Duration  time.Duration

	Blocks []SummaryBlock

	Counts      map[types.Classification]int
	Total       int
	Skipped     int
	NotRun      int
	Flaky       []ReportTestItem
	Regressions []ReportTestItem
	// Failing lists every test whose final classification is not PASS
	Failing []ReportTestItem
}

// HasRegressions reports whether the run had unexpected results left after the retry
func (d *ReportData) HasRegressions() bool {
	return len(d.Regressions) > 0
}

// failureMessages is the text used for each failing classification, worst first
var failureMessages = []struct {
	class   types.Classification
	message string
}{
	{types.ClassCrash, "Test shell crashed"},
	{types.ClassTimeout, "Test timed out"},
	{types.ClassImage, "Image mismatch"},
	{types.ClassFuzzyImage, "Fuzzy image match failed"},
	{types.ClassText, "Text diff mismatch"},
}

// ReportBuilder constructs ReportData from a ResultSummary
type ReportBuilder struct {
	logPathGenerator func(test string, attempt int) string
}

// NewReportBuilder creates a new report builder
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{
		logPathGenerator: func(test string, attempt int) string {
			return ""
		},
	}
}

// WithLogPathGenerator sets the function that locates the log of a failing attempt
func (rb *ReportBuilder) WithLogPathGenerator(generator func(test string, attempt int) string) *ReportBuilder {
	if generator != nil {
		rb.logPathGenerator = generator
	}
	return rb
}

// Build creates the report for a finished run
func (rb *ReportBuilder) Build(summary *types.ResultSummary) *ReportData {
	data := &ReportData{
		RunID:     summary.RunID,
		Platform:  summary.Platform,
		Debug:     summary.Debug,
		Timestamp: summary.StartTime,
		Duration:  summary.Duration,
		Counts:    make(map[types.Classification]int),
		Total:     len(summary.Tests),
		Skipped:   len(summary.Skipped),
		NotRun:    len(summary.NotRun),
	}
	for _, c := range types.AllClassifications {
		data.Counts[c] = summary.Count(c)
	}

	for _, name := range types.SortedTests(summary.Tests) {
		class, ok := summary.Results[name]
		if !ok || class == types.ClassPass || class == types.ClassSkip {
			continue
		}
		data.Failing = append(data.Failing, rb.item(summary, name))
	}
	for _, name := range types.SortedTests(summary.Regressions) {
		data.Regressions = append(data.Regressions, rb.item(summary, name))
	}
	for _, name := range types.SortedTests(summary.Flaky) {
		data.Flaky = append(data.Flaky, rb.item(summary, name))
	}

	data.Blocks = buildBlocks(summary)
	return data
}

func (rb *ReportBuilder) item(summary *types.ResultSummary, name string) ReportTestItem {
	_, regression := summary.Regressions[name]
	_, flaky := summary.Flaky[name]
	item := ReportTestItem{
		Name:           name,
		URI:            summary.Tests[name].URI,
		Classification: summary.Results[name],
		FirstPass:      summary.FirstPassUnexpected[name],
		Timeline:       summary.TimelineOf(name),
		Duration:       summary.Timings[name],
		Failures:       summary.Failures[name],
		Regression:     regression,
		Flaky:          flaky,
	}
	if item.Classification != "" && item.Classification != types.ClassPass && item.Classification != types.ClassSkip {
		item.LogPath = rb.logPathGenerator(name, latestAttempt(summary, name))
	}
	return item
}

func latestAttempt(summary *types.ResultSummary, name string) int {
	attempt := 0
	for key := range summary.Records {
		if key.Test == name && key.Attempt > attempt {
			attempt = key.Attempt
		}
	}
	return attempt
}

// buildBlocks breaks the results down three ways: the fixable tests, the
// tests we want to pass (everything not ignored) and all tests
func buildBlocks(summary *types.ResultSummary) []SummaryBlock {
	fixable := summary.ByTimeline[types.TimelineFixable]
	ignored := summary.ByTimeline[types.TimelineIgnored]

	var wantToPass []string
	for name := range summary.Tests {
		if _, ok := ignored[name]; !ok {
			wantToPass = append(wantToPass, name)
		}
	}
	var all []string
	for name := range summary.Tests {
		all = append(all, name)
	}
	var fixableTests []string
	for name := range fixable {
		fixableTests = append(fixableTests, name)
	}

	return []SummaryBlock{
		block(summary, "Tests to be fixed", fixableTests),
		block(summary, "Tests we want to pass", wantToPass),
		block(summary, "All tests", all),
	}
}

func block(summary *types.ResultSummary, heading string, tests []string) SummaryBlock {
	sort.Strings(tests)
	b := SummaryBlock{Heading: heading, Total: len(tests)}

	var skipped, notRun, failed int
	counts := make(map[types.Classification]int)
	for _, name := range tests {
		if _, ok := summary.Skipped[name]; ok {
			skipped++
			continue
		}
		class, ok := summary.Results[name]
		if !ok {
			notRun++
			continue
		}
		if class != types.ClassPass {
			counts[class]++
			failed++
		}
	}

	b.Lines = append(b.Lines,
		ResultLine{Count: b.Total - skipped - notRun - failed, Message: "Passed"},
		ResultLine{Count: skipped, Message: "Skipped"},
		ResultLine{Count: notRun, Message: "Not run"},
	)
	for _, fm := range failureMessages {
		b.Lines = append(b.Lines, ResultLine{Count: counts[fm.class], Message: fm.message})
	}
	return b
}
