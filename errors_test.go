package lt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum-optimism/infra/layout-tester/exitcodes"
	"github.com/stretchr/testify/assert"
)

func TestErrorTypes(t *testing.T) {
	base := errors.New("driver not found")
	runtimeErr := NewRuntimeError(base)
	regressionErr := NewRegressionError(3)

	tests := []struct {
		name         string
		err          error
		isRuntime    bool
		isRegression bool
		exitCode     int
	}{
		{"nil", nil, false, false, exitcodes.Success},
		{"runtime", runtimeErr, true, false, exitcodes.RuntimeErr},
		{"wrapped runtime", fmt.Errorf("start: %w", runtimeErr), true, false, exitcodes.RuntimeErr},
		{"regressions", regressionErr, false, true, 3},
		{"wrapped regressions", fmt.Errorf("run: %w", regressionErr), false, true, 3},
		{"many regressions", NewRegressionError(1000), false, true, exitcodes.MaxRegressions},
		{"plain error", base, false, false, exitcodes.RuntimeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isRuntime, IsRuntimeError(tt.err))
			assert.Equal(t, tt.isRegression, IsRegressionError(tt.err))
			assert.Equal(t, tt.exitCode, ExitCode(tt.err))
		})
	}

	assert.ErrorIs(t, runtimeErr, base)
	assert.Equal(t, "runtime error: driver not found", runtimeErr.Error())
	assert.Equal(t, "3 tests had unexpected results", regressionErr.Error())
}
