package expectations

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

// Modifiers reported by Lookup
const (
	ModifierSkip = "skip"
	ModifierSlow = "slow"
)

// Expectation is what the oracle knows about one test on one platform and build variant.
type Expectation struct {
	Allowed   map[types.Classification]struct{}
	Timeline  types.Timeline
	Modifiers []string
}

// Allows reports whether an observed classification counts as expected
func (e Expectation) Allows(c types.Classification) bool {
	_, ok := e.Allowed[c]
	return ok
}

// Has reports whether the expectation carries a modifier
func (e Expectation) Has(modifier string) bool {
	for _, m := range e.Modifiers {
		if m == modifier {
			return true
		}
	}
	return false
}

// Oracle answers whether a result was expected. Implementations must be pure:
// the same input always gives the same answer.
type Oracle interface {
	Lookup(test string, platform string, debug bool) Expectation
}

// FileSpec names an expectations file and the timeline its tests belong to
type FileSpec struct {
	Path     string         `yaml:"file"`
	Timeline types.Timeline `yaml:"timeline"`
}

// Expectations is the Oracle backed by expectations files.
type Expectations struct {
	entries []entry
}

var _ Oracle = (*Expectations)(nil)

// Load parses every file. A path listed twice for the same platform and build
// variant is a syntax error.
func Load(logger log.Logger, files []FileSpec) (*Expectations, error) {
	var all []entry
	for _, spec := range files {
		entries, err := parseFile(spec.Path, spec.Timeline)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded expectations file", "file", spec.Path, "timeline", spec.Timeline, "entries", len(entries))
		all = append(all, entries...)
	}
	return newExpectations(all)
}

// Parse builds an oracle from a single reader, mostly useful for tests
func Parse(r io.Reader, name string, timeline types.Timeline) (*Expectations, error) {
	entries, err := parse(r, name, timeline)
	if err != nil {
		return nil, err
	}
	return newExpectations(entries)
}

func newExpectations(entries []entry) (*Expectations, error) {
	if err := checkDuplicates(entries); err != nil {
		return nil, err
	}
	return &Expectations{entries: entries}, nil
}

func checkDuplicates(entries []entry) error {
	for _, platform := range Platforms {
		for _, debug := range []bool{false, true} {
			seen := make(map[string]*entry)
			for i := range entries {
				e := &entries[i]
				if !e.appliesTo(platform, debug) {
					continue
				}
				key := fmt.Sprintf("%t|%s", e.skip, e.path)
				if prev, ok := seen[key]; ok {
					return &SyntaxError{
						File: e.file,
						Line: e.line,
						Msg: fmt.Sprintf("Already seen expectations for path %s (first at %s:%d), in platform %s, and is_debug_mode is %t",
							e.path, prev.file, prev.line, platform, debug),
					}
				}
				seen[key] = e
			}
		}
	}
	return nil
}

// Lookup finds the most precise line covering test. Tests nobody lists are
// expected to pass.
func (x *Expectations) Lookup(test string, platform string, debug bool) Expectation {
	var best *entry
	skip := false
	for i := range x.entries {
		e := &x.entries[i]
		if !e.appliesTo(platform, debug) || !e.matches(test) {
			continue
		}
		if e.skip {
			skip = true
		}
		if best == nil || len(e.path) > len(best.path) {
			best = e
		}
	}

	if best == nil {
		return Expectation{
			Allowed:  map[types.Classification]struct{}{types.ClassPass: {}},
			Timeline: types.TimelineNow,
		}
	}

	exp := Expectation{
		Allowed:  allowedFor(best.results),
		Timeline: best.timeline,
	}
	if skip {
		exp.Modifiers = append(exp.Modifiers, ModifierSkip)
	}
	if best.slow {
		exp.Modifiers = append(exp.Modifiers, ModifierSlow)
	}
	return exp
}

// Validate checks the rules that span files: a test may belong to only one
// timeline, and ignored tests may not be expected to crash.
func (x *Expectations) Validate(tests []string, platform string, debug bool) error {
	var problems []string
	for _, test := range tests {
		timelines := make(map[types.Timeline]bool)
		for i := range x.entries {
			e := &x.entries[i]
			if e.appliesTo(platform, debug) && e.matches(test) && !e.skip {
				timelines[e.timeline] = true
			}
		}
		if len(timelines) > 1 {
			problems = append(problems, fmt.Sprintf("%s is listed in more than one timeline", test))
			continue
		}
		exp := x.Lookup(test, platform, debug)
		if exp.Timeline == types.TimelineIgnored && exp.Allows(types.ClassCrash) && !exp.Has(ModifierSkip) {
			problems = append(problems, fmt.Sprintf("%s is ignored but expected to crash", test))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid expectations: %s", strings.Join(problems, "; "))
	}
	return nil
}

// allowedFor maps listed outcomes onto classifications
func allowedFor(results []string) map[types.Classification]struct{} {
	allowed := make(map[types.Classification]struct{})
	for _, r := range results {
		switch r {
		case ResultPass:
			allowed[types.ClassPass] = struct{}{}
		case ResultFail:
			allowed[types.ClassText] = struct{}{}
			allowed[types.ClassFuzzyImage] = struct{}{}
			allowed[types.ClassImage] = struct{}{}
		case ResultText:
			allowed[types.ClassText] = struct{}{}
		case ResultImage:
			allowed[types.ClassFuzzyImage] = struct{}{}
			allowed[types.ClassImage] = struct{}{}
		case ResultTimeout:
			allowed[types.ClassTimeout] = struct{}{}
		case ResultCrash:
			allowed[types.ClassCrash] = struct{}{}
		}
	}
	return allowed
}
