package reporting

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// UnexpectedFilename is the name of the unexpected results list in the results directory
const UnexpectedFilename = "unexpected_results.txt"

// UnexpectedResultsSink writes the regressions and flaky tests of a run
type UnexpectedResultsSink struct {
	resultsDir string
	builder    *ReportBuilder
}

// NewUnexpectedResultsSink creates an unexpected results sink
func NewUnexpectedResultsSink(resultsDir string) *UnexpectedResultsSink {
	return &UnexpectedResultsSink{resultsDir: resultsDir, builder: NewReportBuilder()}
}

// Consume is a no-op
func (s *UnexpectedResultsSink) Consume(rec *types.ResultRecord, runID string) error {
	return nil
}

// Complete writes unexpected_results.txt
func (s *UnexpectedResultsSink) Complete(summary *types.ResultSummary, runID string) error {
	writer := NewFileWriter(filepath.Join(s.resultsDir, UnexpectedFilename))
	if err := NewReportGenerator(s.builder, UnexpectedFormatter{}, writer).GenerateFromSummary(summary); err != nil {
		return fmt.Errorf("unexpected results for run %s: %w", runID, err)
	}
	return nil
}
