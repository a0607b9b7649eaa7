package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "layout"
)

// Retry outcomes
const (
	RetryFlaky      = "flaky"
	RetryRegression = "regression"
	RetryNotRun     = "not_run"
)

var (
	Debug                bool = true
	validRetryOutcomes        = []string{RetryFlaky, RetryRegression, RetryNotRun}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "results_total",
		Help:      "Count of test attempts by classification",
	}, []string{
		"classification",
		"expected",
		"attempt",
	})

	driverRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "driver_restarts_total",
		Help:      "Count of drivers killed after a crash or timeout",
	}, []string{
		"reason",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of retried tests by outcome",
	}, []string{
		"outcome",
	})

	regressions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "regressions",
		Help:      "Number of regressions in the last run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordResult(class types.Classification, expected bool, attempt int) {
	if !slices.Contains(types.AllClassifications, class) {
		log.Error("RecordResult - invalid classification", "classification", class)
		return
	}
	resultsTotal.WithLabelValues(string(class), strconv.FormatBool(expected), strconv.Itoa(attempt)).Inc()
}

func RecordDriverRestart(reason types.Classification) {
	if Debug {
		log.Debug("metric inc",
			"m", "driver_restarts_total",
			"reason", reason)
	}
	driverRestartsTotal.WithLabelValues(strings.ToLower(string(reason))).Inc()
}

func RecordRetry(outcome string) {
	if !slices.Contains(validRetryOutcomes, outcome) {
		log.Error("RecordRetry - invalid outcome", "outcome", outcome)
		return
	}
	retriesTotal.WithLabelValues(outcome).Inc()
}

func RecordRun(runID string, regressionCount int, duration time.Duration) {
	regressions.WithLabelValues(runID).Set(float64(regressionCount))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}
