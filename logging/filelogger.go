package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

const (
	AllLogsFilename = "all.log"
	FailedDirname   = "failed"

	stderrTruncatedNote = "[earlier stderr output was dropped]"
)

// ResultSink is an interface for different ways of consuming test results
type ResultSink interface {
	// Consume processes a single record, in the order the records were aggregated
	Consume(rec *types.ResultRecord, runID string) error
	// Complete is called once with the final summary after every record was consumed
	Complete(summary *types.ResultSummary, runID string) error
}

// FileLogger writes the results directory of a run. Records are fanned out to
// every sink as they arrive; the summary reaches them once the run is over.
type FileLogger struct {
	resultsDir   string                // Results directory of the run
	failedDir    string                // Directory for logs of failing attempts
	allLogsFile  string                // Path to the combined log file
	mu           sync.Mutex            // Protects sinks and asyncWriters
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string                // Current run ID
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	err     error
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

// processQueue processes the write queue in the background. The first write
// error is kept and returned by Close.
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil && af.err == nil {
			af.err = fmt.Errorf("failed to write %s: %w", af.file.Name(), err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	if err := af.file.Close(); err != nil && af.err == nil {
		return err
	}
	return af.err
}

// NewFileLogger creates the results directory and a FileLogger writing
// all.log and the failed/ logs, followed by the extra sinks in order
func NewFileLogger(resultsDir string, runID string, extra ...ResultSink) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if resultsDir == "" {
		return nil, fmt.Errorf("resultsDir cannot be empty")
	}

	failedDir := filepath.Join(resultsDir, FailedDirname)
	for _, dir := range []string{resultsDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger := &FileLogger{
		resultsDir:   resultsDir,
		failedDir:    failedDir,
		allLogsFile:  filepath.Join(resultsDir, AllLogsFilename),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}
	logger.sinks = append(logger.sinks,
		&AllLogsFileSink{logger: logger},
		&PerTestFileSink{logger: logger, processed: make(map[string]bool)},
	)
	logger.sinks = append(logger.sinks, extra...)

	return logger, nil
}

// AddSink appends a sink. Records consumed before the call are not replayed.
func (l *FileLogger) AddSink(sink ResultSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

func (l *FileLogger) snapshotSinks() []ResultSink {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ResultSink(nil), l.sinks...)
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}

	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}

	l.asyncWriters[path] = writer
	return writer, nil
}

// closeAllWriters closes all async writers and returns the first error
func (l *FileLogger) closeAllWriters() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	for _, writer := range l.asyncWriters {
		if err := writer.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	return first
}

// LogRecord processes a record through all registered sinks
func (l *FileLogger) LogRecord(rec *types.ResultRecord) error {
	for _, sink := range l.snapshotSinks() {
		if err := sink.Consume(rec, l.runID); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}
	return nil
}

// Complete finalizes all sinks and closes all file writers. The async
// writers are flushed first so that sinks see complete files.
func (l *FileLogger) Complete(summary *types.ResultSummary) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}
	if err := l.closeAllWriters(); err != nil {
		return fmt.Errorf("error flushing logs: %w", err)
	}
	for _, sink := range l.snapshotSinks() {
		if err := sink.Complete(summary, l.runID); err != nil {
			return fmt.Errorf("error completing sink: %w", err)
		}
	}
	return nil
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// ResultsDir returns the results directory of this run
func (l *FileLogger) ResultsDir() string {
	return l.resultsDir
}

// GetFailedDir returns the directory containing logs for failing attempts
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetAllLogsFile returns the path to the all logs file
func (l *FileLogger) GetAllLogsFile() string {
	return l.allLogsFile
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, "?", "_")
	s = strings.ReplaceAll(s, "\"", "_")
	s = strings.ReplaceAll(s, "<", "_")
	s = strings.ReplaceAll(s, ">", "_")
	s = strings.ReplaceAll(s, "|", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "...", "")
	return s
}

// FailureLogPath returns the log of a failing attempt, relative to the
// results directory: failed/fast_js_a.html.log for the first pass and
// failed/fast_js_a.html-retry.log for the retry
func FailureLogPath(test string, attempt int) string {
	name := safeFilename(test)
	if attempt > 0 {
		name += "-retry"
	}
	return FailedDirname + "/" + name + ".log"
}

// AllLogsFileSink writes every record to a single all.log file
type AllLogsFileSink struct {
	logger *FileLogger
}

// Consume appends a record to all.log
func (s *AllLogsFileSink) Consume(rec *types.ResultRecord, runID string) error {
	writer, err := s.logger.getAsyncWriter(s.logger.allLogsFile)
	if err != nil {
		return err
	}
	return writer.Write([]byte(formatRecord(rec, runID)))
}

// Complete is a no-op for AllLogsFileSink
func (s *AllLogsFileSink) Complete(summary *types.ResultSummary, runID string) error {
	return nil
}

// formatRecord renders a record as a boxed header followed by the failures
// and the driver's output with escape sequences removed
func formatRecord(rec *types.ResultRecord, runID string) string {
	var content strings.Builder

	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ TEST: %-61s │\n", truncateString(rec.Test.RelPath, 61))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&content, "│ Result:   %-57s │\n", rec.Classification)
	fmt.Fprintf(&content, "│ Attempt:  %-57d │\n", rec.Attempt)
	fmt.Fprintf(&content, "│ Worker:   %-57d │\n", rec.WorkerID)
	fmt.Fprintf(&content, "│ Duration: %-57s │\n", rec.Elapsed)
	fmt.Fprintf(&content, "│ Run:      %-57s │\n", truncateString(runID, 57))
	fmt.Fprintf(&content, "│ Time:     %-57s │\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n\n")

	if len(rec.Failures) > 0 {
		fmt.Fprintf(&content, "FAILURES:\n")
		fmt.Fprintf(&content, "~~~~~~~~~\n")
		for _, f := range rec.Failures {
			fmt.Fprintf(&content, "  %s\n", f.Message())
			if f.Diff != "" {
				fmt.Fprintf(&content, "%s\n", indentText(f.Diff, "    "))
			}
		}
		fmt.Fprintf(&content, "\n")
	}

	if out := stripansi.Strip(rec.Output); out != "" {
		fmt.Fprintf(&content, "OUTPUT:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n", indentText(out, "  "))
	}

	if stderr := stripansi.Strip(rec.Stderr); stderr != "" {
		fmt.Fprintf(&content, "STDERR:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		if rec.StderrTruncated {
			fmt.Fprintf(&content, "  %s\n", stderrTruncatedNote)
		}
		fmt.Fprintf(&content, "%s\n", indentText(stderr, "  "))
	}

	fmt.Fprintf(&content, "\n")
	return content.String()
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates a string to the specified max length
// and adds an ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// PerTestFileSink writes a dedicated log for every failing attempt
type PerTestFileSink struct {
	logger    *FileLogger
	processed map[string]bool // Track which log files were already written
	mu        sync.Mutex
}

// Consume writes the log of a failing attempt. Passing attempts leave no file.
func (s *PerTestFileSink) Consume(rec *types.ResultRecord, runID string) error {
	if rec.Classification == types.ClassPass {
		return nil
	}

	rel := FailureLogPath(rec.Test.RelPath, rec.Attempt)
	s.mu.Lock()
	if s.processed[rel] {
		s.mu.Unlock()
		return nil
	}
	s.processed[rel] = true
	s.mu.Unlock()

	path := filepath.Join(s.logger.resultsDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(formatRecord(rec, runID)), 0644); err != nil {
		return fmt.Errorf("failed to write test log %s: %w", path, err)
	}
	return nil
}

// Complete is a no-op for PerTestFileSink
func (s *PerTestFileSink) Complete(summary *types.ResultSummary, runID string) error {
	return nil
}
