package lt

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/layout-tester/exitcodes"
)

// RuntimeError represents an infrastructure fault that should lead to exit
// code 255. Examples include configuration errors, a missing driver binary or
// a driver protocol desync.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// RegressionError reports a completed run whose results were not all expected
type RegressionError struct {
	Count int
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("%d tests had unexpected results", e.Count)
}

// ExitCode returns the exit code for the run
func (e *RegressionError) ExitCode() int {
	return exitcodes.ForRegressions(e.Count)
}

// NewRegressionError creates a new RegressionError
func NewRegressionError(count int) *RegressionError {
	return &RegressionError{Count: count}
}

// IsRegressionError checks if the error is or wraps a RegressionError
func IsRegressionError(err error) bool {
	var regressionErr *RegressionError
	return err != nil && errors.As(err, &regressionErr)
}

// ExitCode maps the error returned by the application to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var regressionErr *RegressionError
	if errors.As(err, &regressionErr) {
		return regressionErr.ExitCode()
	}
	return exitcodes.RuntimeErr
}
