package runner

import (
	"github.com/ethereum-optimism/infra/layout-tester/expectations"
	"github.com/ethereum-optimism/infra/layout-tester/metrics"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

// Aggregator classifies records against the expectations and accumulates
// them into a ResultSummary. It is not safe for concurrent use: only the
// goroutine that drains the result queue may call it.
type Aggregator struct {
	log      log.Logger
	oracle   expectations.Oracle
	platform string
	debug    bool
	summary  *types.ResultSummary
}

// NewAggregator returns an aggregator writing into summary
func NewAggregator(logger log.Logger, oracle expectations.Oracle, summary *types.ResultSummary) *Aggregator {
	if logger == nil {
		logger = log.New()
	}
	return &Aggregator{
		log:      logger.New("component", "aggregator"),
		oracle:   oracle,
		platform: summary.Platform,
		debug:    summary.Debug,
		summary:  summary,
	}
}

// Summary returns the summary being built
func (a *Aggregator) Summary() *types.ResultSummary {
	return a.summary
}

// Lookup returns the expectation of a test for the run's platform and build
func (a *Aggregator) Lookup(test string) expectations.Expectation {
	return a.oracle.Lookup(test, a.platform, a.debug)
}

// IsExpected reports whether class is an allowed outcome for test
func (a *Aggregator) IsExpected(test string, class types.Classification) bool {
	return a.Lookup(test).Allows(class)
}

// Schedule registers tests that are about to run and files them under their
// expectation timeline
func (a *Aggregator) Schedule(tests []types.TestCase) {
	for _, tc := range tests {
		a.summary.Tests[tc.RelPath] = tc
		a.summary.SetTimeline(tc.RelPath, a.Lookup(tc.RelPath).Timeline)
	}
}

// Skip registers tests that were gathered but will not run
func (a *Aggregator) Skip(tests []types.TestCase) {
	for _, tc := range tests {
		a.summary.Tests[tc.RelPath] = tc
		a.summary.Skipped[tc.RelPath] = struct{}{}
		a.summary.SetResult(tc.RelPath, types.ClassSkip)
		a.summary.SetTimeline(tc.RelPath, a.Lookup(tc.RelPath).Timeline)
	}
}

// Add folds one record into the summary and reports whether its
// classification was expected. A later attempt replaces the final
// classification of an earlier one.
func (a *Aggregator) Add(rec *types.ResultRecord) bool {
	test := rec.Test.RelPath
	key := types.AttemptKey{Test: test, Attempt: rec.Attempt}
	if _, dup := a.summary.Records[key]; dup {
		a.log.Warn("Duplicate result record, keeping the latest", "test", test, "attempt", rec.Attempt)
	}
	a.summary.Records[key] = rec
	if _, ok := a.summary.Tests[test]; !ok {
		a.summary.Tests[test] = rec.Test
		a.summary.SetTimeline(test, a.Lookup(test).Timeline)
	}

	a.summary.SetResult(test, rec.Classification)
	a.summary.Failures[test] = rec.Failures
	a.summary.Timings[test] = rec.Elapsed
	delete(a.summary.NotRun, test)

	expected := a.IsExpected(test, rec.Classification)
	if expected {
		delete(a.summary.Unexpected, test)
	} else {
		a.summary.Unexpected[test] = rec.Classification
	}
	metrics.RecordResult(rec.Classification, expected, rec.Attempt)
	return expected
}

// AddAll adds a drained batch of records
func (a *Aggregator) AddAll(recs []*types.ResultRecord) {
	for _, rec := range recs {
		a.Add(rec)
	}
}

// MarkNotRun files every test without a record for attempt as not run and
// returns them in lexical order
func (a *Aggregator) MarkNotRun(tests []types.TestCase, attempt int) []string {
	var notRun []string
	for _, tc := range tests {
		if _, ok := a.summary.Records[types.AttemptKey{Test: tc.RelPath, Attempt: attempt}]; ok {
			continue
		}
		a.summary.NotRun[tc.RelPath] = struct{}{}
		notRun = append(notRun, tc.RelPath)
	}
	if len(notRun) > 0 {
		a.log.Warn("Tests were not run", "count", len(notRun), "attempt", attempt)
	}
	return types.SortedTests(toSet(notRun))
}

// Finalize fixes the regression set: every test whose final classification
// is still unexpected
func (a *Aggregator) Finalize() {
	a.summary.Regressions = make(map[string]struct{}, len(a.summary.Unexpected))
	for test := range a.summary.Unexpected {
		a.summary.Regressions[test] = struct{}{}
	}
}

func toSet(tests []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tests))
	for _, t := range tests {
		set[t] = struct{}{}
	}
	return set
}
