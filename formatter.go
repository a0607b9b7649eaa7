package lt

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/layout-tester/reporting"
	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	FormatResults(summary *types.ResultSummary) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter. A nil out prints to stdout.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults prints the results table of a run
func (f *ConsoleResultFormatter) FormatResults(summary *types.ResultSummary) error {
	f.logger.Info("Printing results...")
	data := reporting.NewReportBuilder().Build(summary)
	title := fmt.Sprintf("Layout Test Results (%s)", reporting.FormatDuration(summary.Duration))
	content, err := reporting.NewTableFormatter(title, true).Format(data)
	if err != nil {
		return fmt.Errorf("failed to format results table: %w", err)
	}
	return reporting.NewStdoutWriter(f.out).Write(content)
}
