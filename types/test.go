package types

import (
	"fmt"
	"strings"
	"time"
)

// TestCase describes a single layout test. It is built once when the test
// list is gathered and never modified afterwards.
type TestCase struct {
	Path         string        // Absolute path of the test file
	RelPath      string        // Path relative to the layout tests root, always '/' separated
	URI          string        // URI handed to the driver (file://, http:// or https://)
	Timeout      time.Duration // Per-test timeout
	ExpectedHash string        // Expected image checksum for the current platform, empty if none
	IsHTTP       bool          // Test needs the HTTP test server
}

// String returns the test identity used in logs and reports
func (tc TestCase) String() string {
	return tc.RelPath
}

// Dir returns the '/' separated parent directory of the test relative to the root
func (tc TestCase) Dir() string {
	idx := strings.LastIndex(tc.RelPath, "/")
	if idx < 0 {
		return ""
	}
	return tc.RelPath[:idx]
}

// Shard is an ordered batch of tests that one worker runs on one driver.
type Shard struct {
	Key   string
	Tests []TestCase
}

func (s Shard) String() string {
	return fmt.Sprintf("%s (%d tests)", s.Key, len(s.Tests))
}

// Classification is the single outcome derived from the failures of one attempt.
type Classification string

const (
	ClassPass       Classification = "PASS"
	ClassText       Classification = "TEXT"
	ClassFuzzyImage Classification = "FUZZY_IMAGE"
	ClassImage      Classification = "IMAGE"
	ClassTimeout    Classification = "TIMEOUT"
	ClassCrash      Classification = "CRASH"
	ClassSkip       Classification = "SKIP"
)

// AllClassifications lists the classifications a worker can produce, best first
var AllClassifications = []Classification{
	ClassPass,
	ClassText,
	ClassFuzzyImage,
	ClassImage,
	ClassTimeout,
	ClassCrash,
}

// IsContentMismatch reports whether c is one of the FAIL kinds
func (c Classification) IsContentMismatch() bool {
	switch c {
	case ClassText, ClassFuzzyImage, ClassImage:
		return true
	}
	return false
}

// ParseClassification parses a classification name, case-insensitively
func ParseClassification(s string) (Classification, error) {
	c := Classification(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case ClassPass, ClassText, ClassFuzzyImage, ClassImage, ClassTimeout, ClassCrash, ClassSkip:
		return c, nil
	}
	return "", fmt.Errorf("unknown classification %q", s)
}

// Timeline buckets tests by which expectations list (if any) mentions them.
type Timeline string

const (
	TimelineNow     Timeline = "NOW"     // Not listed, expected to pass
	TimelineFixable Timeline = "FIXABLE" // Listed as a known failure that should be fixed
	TimelineIgnored Timeline = "IGNORED" // Listed as a failure we do not intend to fix
)

// ParseTimeline parses a timeline name, case-insensitively
func ParseTimeline(s string) (Timeline, error) {
	t := Timeline(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TimelineNow, TimelineFixable, TimelineIgnored:
		return t, nil
	}
	return "", fmt.Errorf("unknown timeline %q", s)
}
