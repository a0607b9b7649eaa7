package exitcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForRegressions(t *testing.T) {
	tests := []struct {
		regressions int
		want        int
	}{
		{0, Success},
		{-1, Success},
		{1, 1},
		{3, 3},
		{254, 254},
		{255, MaxRegressions},
		{256, MaxRegressions},
		{100000, MaxRegressions},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ForRegressions(tt.regressions), "regressions=%d", tt.regressions)
	}
	assert.NotEqual(t, RuntimeErr, ForRegressions(1<<20))
}
