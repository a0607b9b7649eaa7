// Package exitcodes defines the exit codes used by layout-tester.
package exitcodes

// Exit code constants used by layout-tester
// A completed run exits with the number of regressions, so that a bot can
// tell "three new failures" from "thirty" without parsing any output:
//
// * Success (0): Every test produced an expected result
// * 1..MaxRegressions: The number of tests with unexpected results, capped
// * RuntimeErr (255): Infrastructure faults such as a missing driver, a
// protocol desync or a worker panic
const (
	Success        = 0   // No regressions
	MaxRegressions = 254 // Highest regression count reported as is
	RuntimeErr     = 255 // Runtime errors
)

// ForRegressions returns the exit code of a run with n regressions. Counts
// above MaxRegressions are capped so that they never wrap around to Success.
func ForRegressions(n int) int {
	switch {
	case n <= 0:
		return Success
	case n > MaxRegressions:
		return MaxRegressions
	default:
		return n
	}
}
