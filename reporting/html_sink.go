package reporting

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// HTMLFilename is the name of the HTML report in the results directory
const HTMLFilename = "results.html"

// HTMLSink writes results.html, linking every listed failure to its log and
// artifacts. Nothing is written when there is nothing to list.
type HTMLSink struct {
	resultsDir string
	builder    *ReportBuilder
	formatter  *HTMLFormatter
}

// NewHTMLSink creates an HTML sink. logPath locates the log of a failing
// attempt relative to the results directory and may be nil. With full set
// every failing test is listed, not just the regressions.
func NewHTMLSink(resultsDir string, full bool, logPath func(test string, attempt int) string) (*HTMLSink, error) {
	formatter, err := NewHTMLFormatter(resultsTemplate, full)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTML formatter: %w", err)
	}
	return &HTMLSink{
		resultsDir: resultsDir,
		builder:    NewReportBuilder().WithLogPathGenerator(logPath),
		formatter:  formatter,
	}, nil
}

// Consume is a no-op, the report is built from the final ResultSummary
func (s *HTMLSink) Consume(rec *types.ResultRecord, runID string) error {
	return nil
}

// Complete writes results.html
func (s *HTMLSink) Complete(summary *types.ResultSummary, runID string) error {
	data := s.builder.Build(summary)
	if len(s.formatter.Items(data)) == 0 {
		return nil
	}
	writer := NewFileWriter(filepath.Join(s.resultsDir, HTMLFilename))
	if err := NewReportGenerator(s.builder, s.formatter, writer).GenerateReport(data); err != nil {
		return fmt.Errorf("HTML report for run %s: %w", runID, err)
	}
	return nil
}
