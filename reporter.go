package lt

import (
	"github.com/ethereum-optimism/infra/layout-tester/metrics"
	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// MetricsReporter is responsible for reporting metrics from test results.
type MetricsReporter interface {
	ReportResults(summary *types.ResultSummary)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults reports the outcome of a run to the metrics system.
func (r *DefaultMetricsReporter) ReportResults(summary *types.ResultSummary) {
	metrics.RecordRun(summary.RunID, summary.RegressionCount(), summary.Duration)
}
