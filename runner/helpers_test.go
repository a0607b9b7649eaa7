package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/checkers"
	"github.com/ethereum-optimism/infra/layout-tester/expectations"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// testCase builds a test under file:///layout/ with a short timeout
func testCase(rel string) types.TestCase {
	return types.TestCase{
		Path:    "/layout/" + rel,
		RelPath: rel,
		URI:     "file:///layout/" + rel,
		Timeout: time.Second,
		IsHTTP:  strings.HasPrefix(rel, "http/"),
	}
}

func testCases(rels ...string) []types.TestCase {
	out := make([]types.TestCase, 0, len(rels))
	for _, rel := range rels {
		out = append(out, testCase(rel))
	}
	return out
}

// outcome is what the scripted driver does for one dispatch
type outcome struct {
	text    string
	crash   bool
	timeout bool
	desync  bool
	hang    bool
	panic   bool
}

var (
	outPass     = outcome{text: "ok"}
	outMismatch = outcome{text: "not ok"}
	outCrash    = outcome{crash: true}
	outTimeout  = outcome{timeout: true}
)

// scriptedLauncher hands out in-memory drivers. Each test follows its script
// one dispatch at a time; the last entry repeats. Unscripted tests pass.
type scriptedLauncher struct {
	mu       sync.Mutex
	scripts  map[string][]outcome
	calls    map[string]int
	order    []string
	launches atomic.Int32
	spawnErr error
}

func newScriptedLauncher(scripts map[string][]outcome) *scriptedLauncher {
	if scripts == nil {
		scripts = make(map[string][]outcome)
	}
	return &scriptedLauncher{scripts: scripts, calls: make(map[string]int)}
}

func (l *scriptedLauncher) Launch(_ context.Context, opts LaunchOptions) (Driver, error) {
	l.launches.Add(1)
	if l.spawnErr != nil {
		return nil, l.spawnErr
	}
	return &scriptedDriver{launcher: l, opts: opts, killed: make(chan struct{})}, nil
}

// next returns what the driver should do for uri and records the dispatch
func (l *scriptedLauncher) next(uri string) outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, uri)
	script := l.scripts[uri]
	n := l.calls[uri]
	l.calls[uri]++
	if len(script) == 0 {
		return outPass
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n]
}

// Dispatched returns how often each URI was sent to a driver
func (l *scriptedLauncher) Dispatched(uri string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[uri]
}

// Order returns every dispatched URI in order
func (l *scriptedLauncher) Order() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type scriptedDriver struct {
	launcher *scriptedLauncher
	opts     LaunchOptions
	killed   chan struct{}
	once     sync.Once
	closed   atomic.Bool
}

func (d *scriptedDriver) Run(uri string, args types.TestArgs) (*types.DriverOutput, types.TestArgs, error) {
	o := d.launcher.next(uri)
	switch {
	case o.panic:
		panic("driver exploded")
	case o.desync:
		return nil, args, ErrProtocolDesync
	case o.hang:
		<-d.killed
		return &types.DriverOutput{Crashed: true, Stderr: "killed"}, args, nil
	}
	return &types.DriverOutput{Text: o.text, Crashed: o.crash, TimedOut: o.timeout}, args, nil
}

func (d *scriptedDriver) PNGPath() string { return "" }

func (d *scriptedDriver) Kill() error {
	d.once.Do(func() { close(d.killed) })
	return nil
}

func (d *scriptedDriver) Close() error {
	d.closed.Store(true)
	return nil
}

// okChecker reports a text mismatch unless the driver printed "ok"
type okChecker struct{}

func (okChecker) Name() string { return "ok" }

func (okChecker) Check(tc types.TestCase, out *types.DriverOutput, _ types.TestArgs) ([]types.Failure, error) {
	if out.Text == "ok" {
		return nil, nil
	}
	return []types.Failure{{Kind: types.FailureTextMismatch, Diff: "-ok\n+" + out.Text}}, nil
}

var _ checkers.Checker = okChecker{}

// brokenChecker fails the check itself
type brokenChecker struct{}

func (brokenChecker) Name() string { return "broken" }

func (brokenChecker) Check(types.TestCase, *types.DriverOutput, types.TestArgs) ([]types.Failure, error) {
	return nil, errors.New("baseline unreadable")
}

// parseOracle builds expectations from lines of the FIXABLE file
func parseOracle(t *testing.T, lines ...string) *expectations.Expectations {
	t.Helper()
	oracle, err := expectations.Parse(strings.NewReader(strings.Join(lines, "\n")), "tests_fixable.txt", types.TimelineFixable)
	require.NoError(t, err)
	return oracle
}

// recordsByTest indexes records by test and attempt
func recordsByTest(recs []*types.ResultRecord) map[types.AttemptKey]*types.ResultRecord {
	out := make(map[types.AttemptKey]*types.ResultRecord, len(recs))
	for _, r := range recs {
		out[types.AttemptKey{Test: r.Test.RelPath, Attempt: r.Attempt}] = r
	}
	return out
}
