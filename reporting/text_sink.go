package reporting

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// SummaryFilename is the name of the text summary in the results directory
const SummaryFilename = "summary.log"

// TextSummarySink writes the per-timeline breakdown of a run to summary.log
// and echoes it to out
type TextSummarySink struct {
	resultsDir string
	out        io.Writer
	builder    *ReportBuilder
	formatter  *TextSummaryFormatter
}

// NewTextSummarySink creates a text summary sink. A nil out only writes the file.
func NewTextSummarySink(resultsDir string, out io.Writer) *TextSummarySink {
	return &TextSummarySink{
		resultsDir: resultsDir,
		out:        out,
		builder:    NewReportBuilder(),
		formatter:  NewTextSummaryFormatter(),
	}
}

// Consume is a no-op, the summary is built from the final ResultSummary
func (s *TextSummarySink) Consume(rec *types.ResultRecord, runID string) error {
	return nil
}

// Complete writes summary.log
func (s *TextSummarySink) Complete(summary *types.ResultSummary, runID string) error {
	var writer ReportWriter = NewFileWriter(filepath.Join(s.resultsDir, SummaryFilename))
	if s.out != nil {
		writer = multiWriter{writer, NewStdoutWriter(s.out)}
	}
	if err := NewReportGenerator(s.builder, s.formatter, writer).GenerateFromSummary(summary); err != nil {
		return fmt.Errorf("text summary for run %s: %w", runID, err)
	}
	return nil
}
