package expectations

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// Platforms that may appear as modifiers
var Platforms = []string{"linux", "win", "mac"}

// Expected outcomes that may appear on the right hand side of a line
const (
	ResultPass    = "pass"
	ResultFail    = "fail"
	ResultText    = "text"
	ResultImage   = "image"
	ResultTimeout = "timeout"
	ResultCrash   = "crash"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	bugMarker  = regexp.MustCompile(`^bug\w*$`)
)

// SyntaxError points at the offending line of an expectations file
type SyntaxError struct {
	File string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// entry is one non-comment line of an expectations file
type entry struct {
	file     string
	line     int
	path     string
	timeline types.Timeline

	platforms   []string
	debugOnly   bool
	releaseOnly bool
	skip        bool
	slow        bool
	results     []string
}

// appliesTo reports whether the line is in effect for a platform and build variant
func (e *entry) appliesTo(platform string, debug bool) bool {
	if e.debugOnly || e.releaseOnly {
		if debug && !e.debugOnly {
			return false
		}
		if !debug && !e.releaseOnly {
			return false
		}
	}
	if len(e.platforms) == 0 {
		return true
	}
	for _, p := range e.platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// matches reports whether the entry covers test, either exactly or as a directory prefix
func (e *entry) matches(test string) bool {
	if e.path == "" || e.path == "." {
		return true
	}
	return test == e.path || strings.HasPrefix(test, e.path+"/")
}

// stripComments removes a trailing // comment and collapses whitespace,
// returning "" for lines that carry nothing
func stripComments(line string) string {
	if idx := strings.Index(line, "//"); idx >= 0 {
		line = line[:idx]
	}
	return whitespace.ReplaceAllString(strings.TrimSpace(line), " ")
}

// parseFile reads an expectations file from disk
func parseFile(filename string, timeline types.Timeline) ([]entry, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open expectations file: %w", err)
	}
	defer f.Close()
	return parse(f, filename, timeline)
}

// parse reads lines of the form
//
//	[MODIFIERS :] path = EXPECTATIONS
//
// where MODIFIERS is any of SKIP, SLOW, DEBUG, RELEASE, LINUX, WIN, MAC and
// EXPECTATIONS is any of PASS, FAIL, TEXT, IMAGE, TIMEOUT, CRASH.
func parse(r io.Reader, name string, timeline types.Timeline) ([]entry, error) {
	var entries []entry
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := stripComments(scanner.Text())
		if line == "" {
			continue
		}

		e := entry{file: name, line: lineno, timeline: timeline}
		testAndResults := line
		if idx := strings.Index(line, ":"); idx >= 0 {
			testAndResults = line[idx+1:]
			if err := e.parseModifiers(line[:idx]); err != nil {
				return nil, &SyntaxError{File: name, Line: lineno, Msg: err.Error()}
			}
		}

		parts := strings.Split(testAndResults, "=")
		if len(parts) != 2 {
			return nil, &SyntaxError{File: name, Line: lineno, Msg: "Test is missing expectations"}
		}
		e.path = normalizePath(parts[0])
		if e.path == "" {
			return nil, &SyntaxError{File: name, Line: lineno, Msg: "Test path is empty"}
		}
		results, err := parseResults(parts[1])
		if err != nil {
			return nil, &SyntaxError{File: name, Line: lineno, Msg: err.Error()}
		}
		e.results = results
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return entries, nil
}

func (e *entry) parseModifiers(s string) error {
	for _, opt := range fields(s) {
		switch opt {
		case "skip":
			e.skip = true
		case "slow":
			e.slow = true
		case "debug":
			e.debugOnly = true
		case "release":
			e.releaseOnly = true
		case "linux", "win", "mac":
			e.platforms = append(e.platforms, opt)
		default:
			if bugMarker.MatchString(opt) {
				continue
			}
			return fmt.Errorf("Unsupported modifier: %s", opt)
		}
	}
	return nil
}

func parseResults(s string) ([]string, error) {
	var out []string
	for _, part := range fields(s) {
		switch part {
		case ResultPass, ResultFail, ResultText, ResultImage, ResultTimeout, ResultCrash:
			out = append(out, part)
		default:
			return nil, fmt.Errorf("Unsupported expectation: %s", part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("Test is missing expectations")
	}
	return out, nil
}

func fields(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// normalizePath turns a listed path into the '/' separated form used as test identity
func normalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	return strings.TrimSuffix(path.Clean(p), "/")
}
