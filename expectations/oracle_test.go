package expectations

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixable = `
// Known failures we want to fix
fast/js/fixme.html = FAIL
fast/js/flaky.html = FAIL PASS
fast/js = TIMEOUT            // whole directory
SLOW : fast/js/slow.html = PASS
LINUX DEBUG : fast/forms/linux-debug.html = CRASH
WIN : fast/forms/win.html = TEXT
SKIP : fast/skipped = PASS
BUG1234 RELEASE : fast/images/pixel.html = IMAGE
`

func mustParse(t *testing.T, content string, timeline types.Timeline) *Expectations {
	t.Helper()
	exp, err := Parse(strings.NewReader(content), "tests_fixable.txt", timeline)
	require.NoError(t, err)
	return exp
}

func TestLookup(t *testing.T) {
	exp := mustParse(t, fixable, types.TimelineFixable)

	tests := []struct {
		name     string
		test     string
		platform string
		debug    bool
		allowed  []types.Classification
		denied   []types.Classification
		timeline types.Timeline
		mods     []string
	}{
		{
			name:     "unlisted test expects pass",
			test:     "fast/css/a.html",
			platform: "linux",
			allowed:  []types.Classification{types.ClassPass},
			denied:   []types.Classification{types.ClassText, types.ClassCrash},
			timeline: types.TimelineNow,
		},
		{
			name:     "fail allows every content mismatch",
			test:     "fast/js/fixme.html",
			platform: "linux",
			allowed:  []types.Classification{types.ClassText, types.ClassImage, types.ClassFuzzyImage},
			denied:   []types.Classification{types.ClassPass, types.ClassTimeout},
			timeline: types.TimelineFixable,
		},
		{
			name:     "more precise path wins over directory",
			test:     "fast/js/flaky.html",
			platform: "mac",
			allowed:  []types.Classification{types.ClassPass, types.ClassText},
			denied:   []types.Classification{types.ClassTimeout},
			timeline: types.TimelineFixable,
		},
		{
			name:     "directory entry covers its subtree",
			test:     "fast/js/deep/other.html",
			platform: "linux",
			allowed:  []types.Classification{types.ClassTimeout},
			denied:   []types.Classification{types.ClassPass},
			timeline: types.TimelineFixable,
		},
		{
			name:     "slow modifier",
			test:     "fast/js/slow.html",
			platform: "linux",
			allowed:  []types.Classification{types.ClassPass},
			timeline: types.TimelineFixable,
			mods:     []string{ModifierSlow},
		},
		{
			name:     "platform and build scoped line applies",
			test:     "fast/forms/linux-debug.html",
			platform: "linux",
			debug:    true,
			allowed:  []types.Classification{types.ClassCrash},
			timeline: types.TimelineFixable,
		},
		{
			name:     "platform and build scoped line ignored in release",
			test:     "fast/forms/linux-debug.html",
			platform: "linux",
			debug:    false,
			allowed:  []types.Classification{types.ClassPass},
			denied:   []types.Classification{types.ClassCrash},
			timeline: types.TimelineNow,
		},
		{
			name:     "other platform line ignored",
			test:     "fast/forms/win.html",
			platform: "mac",
			allowed:  []types.Classification{types.ClassPass},
			denied:   []types.Classification{types.ClassText},
			timeline: types.TimelineNow,
		},
		{
			name:     "skip modifier",
			test:     "fast/skipped/a.html",
			platform: "linux",
			allowed:  []types.Classification{types.ClassPass},
			timeline: types.TimelineFixable,
			mods:     []string{ModifierSkip},
		},
		{
			name:     "image allows fuzzy image but not text",
			test:     "fast/images/pixel.html",
			platform: "win",
			allowed:  []types.Classification{types.ClassImage, types.ClassFuzzyImage},
			denied:   []types.Classification{types.ClassText},
			timeline: types.TimelineFixable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exp.Lookup(tt.test, tt.platform, tt.debug)
			for _, c := range tt.allowed {
				assert.True(t, got.Allows(c), "expected %s to be allowed", c)
			}
			for _, c := range tt.denied {
				assert.False(t, got.Allows(c), "expected %s to be denied", c)
			}
			assert.Equal(t, tt.timeline, got.Timeline)
			assert.ElementsMatch(t, tt.mods, got.Modifiers)
		})
	}
}

func TestLookupIsDeterministic(t *testing.T) {
	exp := mustParse(t, fixable, types.TimelineFixable)
	first := exp.Lookup("fast/js/flaky.html", "linux", false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, exp.Lookup("fast/js/flaky.html", "linux", false))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
		msg     string
	}{
		{
			name:    "missing expectations",
			content: "fast/a.html\n",
			line:    1,
			msg:     "Test is missing expectations",
		},
		{
			name:    "unknown expectation",
			content: "// comment\nfast/a.html = EXPLODE\n",
			line:    2,
			msg:     "Unsupported expectation: explode",
		},
		{
			name:    "unknown modifier",
			content: "NIGHTLY : fast/a.html = PASS\n",
			line:    1,
			msg:     "Unsupported modifier: nightly",
		},
		{
			name:    "same path twice",
			content: "fast/a.html = FAIL\n\nfast/a.html = CRASH\n",
			line:    3,
			msg:     "Already seen expectations for path fast/a.html",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.content), "exp.txt", types.TimelineFixable)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			require.True(t, errors.As(err, &syntaxErr))
			assert.Equal(t, tt.line, syntaxErr.Line)
			assert.Contains(t, syntaxErr.Msg, tt.msg)
			assert.True(t, strings.HasPrefix(err.Error(), "exp.txt:"))
		})
	}
}

func TestSamePathOnDifferentPlatformsIsAllowed(t *testing.T) {
	_, err := Parse(strings.NewReader("LINUX : fast/a.html = FAIL\nWIN : fast/a.html = CRASH\n"), "exp.txt", types.TimelineFixable)
	assert.NoError(t, err)
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	fixablePath := filepath.Join(dir, "tests_fixable.txt")
	ignoredPath := filepath.Join(dir, "tests_ignored.txt")
	require.NoError(t, os.WriteFile(fixablePath, []byte("fast/a.html = FAIL\nfast/both = FAIL\n"), 0644))
	require.NoError(t, os.WriteFile(ignoredPath, []byte("fast/b.html = CRASH\nfast/both/c.html = TIMEOUT\n"), 0644))

	exp, err := Load(log.NewLogger(log.DiscardHandler()), []FileSpec{
		{Path: fixablePath, Timeline: types.TimelineFixable},
		{Path: ignoredPath, Timeline: types.TimelineIgnored},
	})
	require.NoError(t, err)

	assert.Equal(t, types.TimelineIgnored, exp.Lookup("fast/b.html", "linux", false).Timeline)

	require.NoError(t, exp.Validate([]string{"fast/a.html"}, "linux", false))

	err = exp.Validate([]string{"fast/a.html", "fast/b.html", "fast/both/c.html"}, "linux", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast/b.html is ignored but expected to crash")
	assert.Contains(t, err.Error(), "fast/both/c.html is listed in more than one timeline")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(log.NewLogger(log.DiscardHandler()), []FileSpec{{Path: "/does/not/exist", Timeline: types.TimelineFixable}})
	assert.Error(t, err)
}
