package reporting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// JSONFilename is the name of the results history in the results directory
	JSONFilename = "results.json"

	jsonPrefix = "ADD_RESULTS("
	jsonSuffix = ");"

	jsonVersionKey = "version"
	jsonVersion    = 1

	// MaxBuilds is the number of builds the history keeps per test
	MaxBuilds = 500
	// minTime is the runtime in seconds under which a test with no data is pruned
	minTime = 1

	passChar   = "P"
	noDataChar = "N"
)

var resultChars = map[types.Classification]string{
	types.ClassCrash:      "C",
	types.ClassTimeout:    "T",
	types.ClassImage:      "I",
	types.ClassFuzzyImage: "O",
	types.ClassText:       "F",
	types.ClassPass:       passChar,
}

// ResultChar returns the history character for a classification, "N" for no data
func ResultChar(c types.Classification) string {
	if ch, ok := resultChars[c]; ok {
		return ch
	}
	return noDataChar
}

// run is one [count, value] pair of a run-length encoded list
type run[T comparable] struct {
	Count int
	Value T
}

// runLength is a run-length encoded list, newest first
type runLength[T comparable] []run[T]

func (r runLength[T]) MarshalJSON() ([]byte, error) {
	pairs := make([][2]any, len(r))
	for i, e := range r {
		pairs[i] = [2]any{e.Count, e.Value}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON accepts the encoded form as well as the flat lists and strings
// of older files, which it encodes on the way in
func (r *runLength[T]) UnmarshalJSON(data []byte) error {
	*r = nil
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		for _, ch := range s {
			var v T
			if err := json.Unmarshal([]byte(strconv.Quote(string(ch))), &v); err != nil {
				return err
			}
			r.append(v, 1)
		}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '[' {
			var pair []json.RawMessage
			if err := json.Unmarshal(item, &pair); err != nil {
				return err
			}
			if len(pair) != 2 {
				return fmt.Errorf("run-length entry has %d elements", len(pair))
			}
			var e run[T]
			if err := json.Unmarshal(pair[0], &e.Count); err != nil {
				return err
			}
			if err := json.Unmarshal(pair[1], &e.Value); err != nil {
				return err
			}
			*r = append(*r, e)
			continue
		}
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return err
		}
		r.append(v, 1)
	}
	return nil
}

// append adds count copies of v at the oldest end
func (r *runLength[T]) append(v T, count int) {
	if n := len(*r); n > 0 && (*r)[n-1].Value == v {
		(*r)[n-1].Count += count
		return
	}
	*r = append(*r, run[T]{Count: count, Value: v})
}

// insert records v as the newest entry
func (r *runLength[T]) insert(v T) {
	if len(*r) > 0 && (*r)[0].Value == v {
		(*r)[0].Count++
		return
	}
	*r = append(runLength[T]{{Count: 1, Value: v}}, *r...)
}

// trim drops the runs after the one that takes the total over limit
func (r runLength[T]) trim(limit int) runLength[T] {
	total := 0
	for i, e := range r {
		total += e.Count
		if total > limit {
			return r[:i+1]
		}
	}
	return r
}

// allOf reports whether the list is a single run of v
func (r runLength[T]) allOf(v T) bool {
	return len(r) == 1 && r[0].Value == v
}

type testHistory struct {
	Results runLength[string] `json:"results"`
	Times   runLength[int]    `json:"times"`
}

type builderHistory struct {
	BuildNumbers      []string                `json:"buildNumbers"`
	SecondsSinceEpoch []int64                 `json:"secondsSinceEpoch"`
	Tests             map[string]*testHistory `json:"tests"`
}

// JSONResultsOptions configures a JSONResultsSink
type JSONResultsOptions struct {
	BuilderName string
	BuildNumber string
	// Exists reports whether a test is still part of the corpus. Histories of
	// tests it rejects are dropped. Nil keeps every test.
	Exists func(test string) bool
	Log    log.Logger
}

// JSONResultsSink merges the results of a run into the run-length encoded
// history in results.json
type JSONResultsSink struct {
	path string
	opts JSONResultsOptions
	now  func() time.Time
}

// NewJSONResultsSink creates a results.json sink in resultsDir
func NewJSONResultsSink(resultsDir string, opts JSONResultsOptions) (*JSONResultsSink, error) {
	if opts.BuilderName == "" {
		return nil, errors.New("builder name is required")
	}
	if opts.Log == nil {
		opts.Log = log.New()
	}
	return &JSONResultsSink{
		path: filepath.Join(resultsDir, JSONFilename),
		opts: opts,
		now:  time.Now,
	}, nil
}

// Consume is a no-op
func (s *JSONResultsSink) Consume(rec *types.ResultRecord, runID string) error {
	return nil
}

// Complete merges summary into results.json
func (s *JSONResultsSink) Complete(summary *types.ResultSummary, runID string) error {
	builders := s.load()

	hist, ok := builders[s.opts.BuilderName]
	if !ok || hist == nil {
		hist = &builderHistory{}
		builders[s.opts.BuilderName] = hist
	}
	if hist.Tests == nil {
		hist.Tests = make(map[string]*testHistory)
	}

	hist.BuildNumbers = prependCapped(hist.BuildNumbers, s.opts.BuildNumber)
	hist.SecondsSinceEpoch = prependCapped(hist.SecondsSinceEpoch, s.now().Unix())

	update := make(map[string]struct{}, len(hist.Tests))
	for test := range hist.Tests {
		update[test] = struct{}{}
	}
	for test, class := range summary.Results {
		if class != types.ClassPass {
			update[test] = struct{}{}
		}
	}

	for _, test := range types.SortedTests(update) {
		char := noDataChar
		if class, ran := summary.Results[test]; ran {
			char = ResultChar(class)
		}
		secs := int(summary.Timings[test] / time.Second)

		th, ok := hist.Tests[test]
		if !ok || th == nil {
			th = &testHistory{}
			hist.Tests[test] = th
		}
		th.Results.insert(char)
		th.Times.insert(secs)
		th.Results = th.Results.trim(MaxBuilds)
		th.Times = th.Times.trim(MaxBuilds)

		if th.Results.allOf(passChar) || (th.Results.allOf(noDataChar) && maxTime(th.Times) <= minTime) {
			delete(hist.Tests, test)
			continue
		}
		if s.opts.Exists != nil && !s.opts.Exists(test) {
			delete(hist.Tests, test)
		}
	}

	out := make(map[string]any, len(builders)+1)
	for name, h := range builders {
		out[name] = h
	}
	out[jsonVersionKey] = jsonVersion
	encoded, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", JSONFilename, err)
	}
	content := jsonPrefix + string(encoded) + jsonSuffix
	if err := os.WriteFile(s.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s for run %s: %w", JSONFilename, runID, err)
	}
	return nil
}

// load reads the existing history. A missing or unreadable file starts a new one.
func (s *JSONResultsSink) load() map[string]*builderHistory {
	builders := make(map[string]*builderHistory)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.opts.Log.Warn("Failed to read results history, starting over", "path", s.path, "error", err)
		}
		return builders
	}

	body := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(string(raw)), jsonPrefix), jsonSuffix)
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		s.opts.Log.Error("Results file on disk was not valid JSON, clobbering", "path", s.path, "error", err)
		return builders
	}
	for name, msg := range top {
		if name == jsonVersionKey {
			continue
		}
		var h builderHistory
		if err := json.Unmarshal(msg, &h); err != nil {
			s.opts.Log.Error("Results file on disk was not valid JSON, clobbering", "path", s.path, "builder", name, "error", err)
			return make(map[string]*builderHistory)
		}
		builders[name] = &h
	}
	if _, ok := builders[s.opts.BuilderName]; !ok && len(builders) > 0 {
		s.opts.Log.Warn("Builder is not in the results history", "builder", s.opts.BuilderName)
	}
	return builders
}

func prependCapped[T any](list []T, v T) []T {
	list = append([]T{v}, list...)
	if len(list) > MaxBuilds {
		list = list[:MaxBuilds]
	}
	return list
}

func maxTime(times runLength[int]) int {
	m := 0
	for _, e := range times {
		if e.Value > m {
			m = e.Value
		}
	}
	return m
}
