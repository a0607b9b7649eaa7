package types

import (
	"fmt"
)

// FailureKind is the closed set of ways a single test attempt can fail.
type FailureKind int

const (
	FailureCrash FailureKind = iota + 1
	FailureTimeout
	FailureTextMismatch
	FailureImageMismatch
	FailureFuzzyImageMismatch
)

func (k FailureKind) String() string {
	switch k {
	case FailureCrash:
		return "crash"
	case FailureTimeout:
		return "timeout"
	case FailureTextMismatch:
		return "text mismatch"
	case FailureImageMismatch:
		return "image mismatch"
	case FailureFuzzyImageMismatch:
		return "fuzzy image mismatch"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Failure is one recorded failure of a test attempt. Which of the optional
// fields are set depends on Kind.
type Failure struct {
	Kind FailureKind

	// Detail is a free form explanation, e.g. the spawn error behind a crash
	Detail string
	// Diff holds the unified text diff for text mismatches
	Diff string
	// Artifact paths relative to the results directory
	ActualPath   string
	ExpectedPath string
	DiffPath     string
}

// NewCrash returns a crash failure with an optional detail message
func NewCrash(detail string) Failure {
	return Failure{Kind: FailureCrash, Detail: detail}
}

// NewTimeout returns a timeout failure with an optional detail message
func NewTimeout(detail string) Failure {
	return Failure{Kind: FailureTimeout, Detail: detail}
}

// IsDefinitive reports whether the failure makes any content check meaningless.
func (f Failure) IsDefinitive() bool {
	return f.Kind == FailureCrash || f.Kind == FailureTimeout
}

// Message renders a one line human readable description
func (f Failure) Message() string {
	var msg string
	switch f.Kind {
	case FailureCrash:
		msg = "Test shell crashed"
	case FailureTimeout:
		msg = "Test timed out"
	case FailureTextMismatch:
		msg = "Text diff mismatch"
	case FailureImageMismatch:
		msg = "Image mismatch"
	case FailureFuzzyImageMismatch:
		msg = "Fuzzy image match failed"
	default:
		msg = f.Kind.String()
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

// Classify derives the classification of an attempt from its failures.
// Crash dominates timeout, which dominates any content mismatch; among content
// mismatches image is worse than fuzzy image, which is worse than text.
func Classify(failures []Failure) Classification {
	var crash, timeout, text, fuzzy, image bool
	for _, f := range failures {
		switch f.Kind {
		case FailureCrash:
			crash = true
		case FailureTimeout:
			timeout = true
		case FailureTextMismatch:
			text = true
		case FailureImageMismatch:
			image = true
		case FailureFuzzyImageMismatch:
			fuzzy = true
		default:
			panic(fmt.Sprintf("unhandled failure kind %d", int(f.Kind)))
		}
	}
	switch {
	case crash:
		return ClassCrash
	case timeout:
		return ClassTimeout
	case image:
		return ClassImage
	case fuzzy:
		return ClassFuzzyImage
	case text:
		return ClassText
	default:
		return ClassPass
	}
}
