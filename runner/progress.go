package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
)

// ProgressIndicator receives updates from the workers. Implementations must
// be safe for concurrent use.
type ProgressIndicator interface {
	StartPhase(phase string, totalTests int)
	StartShard(workerID int, shard types.Shard)
	StartTest(test string)
	UpdateTest(test string, classification types.Classification)
	CompletePhase(phase string)
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartPhase(phase string, totalTests int)            {}
func (n *noOpProgressIndicator) StartShard(workerID int, shard types.Shard)         {}
func (n *noOpProgressIndicator) StartTest(test string)                              {}
func (n *noOpProgressIndicator) UpdateTest(test string, class types.Classification) {}
func (n *noOpProgressIndicator) CompletePhase(phase string)                         {}
func (n *noOpProgressIndicator) Stop()                                              {}

// consoleProgressIndicator logs a progress line on every tick
type consoleProgressIndicator struct {
	logger   log.Logger
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	currentPhase   string
	completedTests int
	totalTests     int
	phaseStartTime time.Time

	// Track currently running tests
	runningTests map[string]time.Time // test name -> start time
	counts       map[types.Classification]int

	workerStates func() []WorkerState
}

// workerTracker is implemented by progress indicators that report what each
// worker is doing
type workerTracker interface {
	TrackWorkers(states func() []WorkerState)
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second // Default to 30 seconds
	}

	indicator := &consoleProgressIndicator{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
		counts:       make(map[types.Classification]int),
	}

	// Start the progress reporting goroutine
	go indicator.progressReporter()

	return indicator
}

func (c *consoleProgressIndicator) StartPhase(phase string, totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentPhase = phase
	c.totalTests = totalTests
	c.completedTests = 0
	c.phaseStartTime = time.Now()
	c.runningTests = make(map[string]time.Time)
	c.counts = make(map[types.Classification]int)

	c.logger.Info("Starting phase", "phase", phase, "totalTests", totalTests)
}

func (c *consoleProgressIndicator) StartShard(workerID int, shard types.Shard) {
	c.logger.Debug("Worker took shard", "workerID", workerID, "shard", shard.Key, "tests", len(shard.Tests))
}

// StartTest tracks when a test starts running
func (c *consoleProgressIndicator) StartTest(test string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[test] = time.Now()
}

func (c *consoleProgressIndicator) UpdateTest(test string, class types.Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, test)
	c.completedTests++
	c.counts[class]++

	c.logger.Debug("Test completed", "test", test, "classification", class, "completed", c.completedTests, "total", c.totalTests)
}

func (c *consoleProgressIndicator) CompletePhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.phaseStartTime).Truncate(time.Millisecond)
	c.logger.Info("Completed phase", "phase", phase, "completed", c.completedTests, "total", c.totalTests, "duration", duration)
	c.currentPhase = ""
	c.runningTests = make(map[string]time.Time)
}

// TrackWorkers makes every progress line include the worker states
func (c *consoleProgressIndicator) TrackWorkers(states func() []WorkerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workerStates = states
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	states := c.workerStates
	c.mu.RUnlock()
	var workers string
	if states != nil {
		workers = formatWorkerStates(states())
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.currentPhase == "" {
		return
	}

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"phase", c.currentPhase,
		"completed", c.completedTests,
		"total", c.totalTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"failing", formatCounts(c.counts),
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3),
		"workers", workers)
}

// Stop stops the progress indicator
func (c *consoleProgressIndicator) Stop() {
	c.stopOnce.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatCounts renders the non-passing classifications seen so far
func formatCounts(counts map[types.Classification]int) string {
	var parts []string
	for _, class := range types.AllClassifications {
		if class == types.ClassPass || counts[class] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", class, counts[class]))
	}
	return strings.Join(parts, " ")
}

// formatWorkerStates counts workers per state, in life cycle order
func formatWorkerStates(states []WorkerState) string {
	counts := make(map[WorkerState]int)
	for _, s := range states {
		counts[s]++
	}
	var parts []string
	for s := WorkerIdle; s <= WorkerStopped; s++ {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
		}
	}
	return strings.Join(parts, " ")
}

// Helper function that formats running tests into a display string
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	// Sort running tests by duration (longest first)
	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for testName, startTime := range runningTests {
		running = append(running, runningTest{
			name:     testName,
			duration: now.Sub(startTime),
		})
	}

	sort.Slice(running, func(i, j int) bool {
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		duration := test.duration.Truncate(time.Second)
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, duration))
	}

	// Add indicator for additional tests not shown
	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}

	return strings.Join(runningStrs, ", ")
}
