package types

import (
	"sort"
	"time"
)

// ResultRecord is the outcome of one attempt at one test.
type ResultRecord struct {
	Test            TestCase
	Attempt         int // 0 for the first pass, 1 for the retry
	Failures        []Failure
	Elapsed         time.Duration
	Classification  Classification
	WorkerID        int
	Output          string // Text the driver printed for this test, sentinels removed
	Stderr          string // Tail of the driver's stderr around this test
	StderrTruncated bool   // The start of Stderr was dropped
}

// NewResultRecord builds a record and derives its classification from the failures
func NewResultRecord(tc TestCase, attempt int, failures []Failure, elapsed time.Duration) *ResultRecord {
	return &ResultRecord{
		Test:           tc,
		Attempt:        attempt,
		Failures:       failures,
		Elapsed:        elapsed,
		Classification: Classify(failures),
	}
}

// AttemptKey identifies a record within a run
type AttemptKey struct {
	Test    string
	Attempt int
}

// ResultSummary accumulates the results of a run. It has exactly one writer,
// the goroutine that drains the result queue.
type ResultSummary struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Platform  string
	Debug     bool

	// Tests holds every test that was scheduled, keyed by identity
	Tests map[string]TestCase
	// Final classification per test
	Results map[string]Classification
	// Reverse indices
	ByClassification map[Classification]map[string]struct{}
	ByTimeline       map[Timeline]map[string]struct{}
	// Failures and timing of the latest attempt per test
	Failures map[string][]Failure
	Timings  map[string]time.Duration
	// Unexpected holds tests whose latest classification is not allowed by the expectations
	Unexpected map[string]Classification
	// FirstPassUnexpected is the unexpected index as it stood before the retry
	FirstPassUnexpected map[string]Classification
	Flaky               map[string]struct{}
	Regressions         map[string]struct{}
	NotRun              map[string]struct{}
	Skipped             map[string]struct{}
	Records             map[AttemptKey]*ResultRecord
}

// NewResultSummary returns an empty summary
func NewResultSummary(runID string, platform string, debug bool) *ResultSummary {
	return &ResultSummary{
		RunID:               runID,
		StartTime:           time.Now(),
		Platform:            platform,
		Debug:               debug,
		Tests:               make(map[string]TestCase),
		Results:             make(map[string]Classification),
		ByClassification:    make(map[Classification]map[string]struct{}),
		ByTimeline:          make(map[Timeline]map[string]struct{}),
		Failures:            make(map[string][]Failure),
		Timings:             make(map[string]time.Duration),
		Unexpected:          make(map[string]Classification),
		FirstPassUnexpected: make(map[string]Classification),
		Flaky:               make(map[string]struct{}),
		Regressions:         make(map[string]struct{}),
		NotRun:              make(map[string]struct{}),
		Skipped:             make(map[string]struct{}),
		Records:             make(map[AttemptKey]*ResultRecord),
	}
}

// SetResult records the final classification of a test and keeps the reverse index in step
func (s *ResultSummary) SetResult(test string, c Classification) {
	if prev, ok := s.Results[test]; ok {
		delete(s.ByClassification[prev], test)
	}
	s.Results[test] = c
	addToSet(s.ByClassification, c, test)
}

// SetTimeline places a test in a timeline bucket
func (s *ResultSummary) SetTimeline(test string, t Timeline) {
	for _, set := range s.ByTimeline {
		delete(set, test)
	}
	addToSet(s.ByTimeline, t, test)
}

// TimelineOf returns the timeline bucket of a test, NOW if it was never placed
func (s *ResultSummary) TimelineOf(test string) Timeline {
	for t, set := range s.ByTimeline {
		if _, ok := set[test]; ok {
			return t
		}
	}
	return TimelineNow
}

// Count returns the number of tests with the given final classification
func (s *ResultSummary) Count(c Classification) int {
	return len(s.ByClassification[c])
}

// RegressionCount is the number of tests still unexpected after the retry
func (s *ResultSummary) RegressionCount() int {
	return len(s.Regressions)
}

// SortedTests returns the keys of a test set in lexical order
func SortedTests[V any](set map[string]V) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func addToSet[K comparable](index map[K]map[string]struct{}, key K, test string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[test] = struct{}{}
}
