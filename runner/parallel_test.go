package runner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/layout-tester/checkers"
	"github.com/ethereum-optimism/infra/layout-tester/types"
)

func newTestExecutor(t *testing.T, launcher DriverLauncher, concurrency int, drain time.Duration) *ParallelExecutor {
	t.Helper()
	pe, err := NewParallelExecutor(ExecutorConfig{
		Log:           testLogger(),
		Concurrency:   concurrency,
		DrainInterval: drain,
		Launcher:      launcher,
		Checkers:      []checkers.Checker{okChecker{}},
	})
	require.NoError(t, err)
	return pe
}

// manyTests spreads n tests over dirs directories
func manyTests(n, dirs int) []types.TestCase {
	var rels []string
	for i := 0; i < n; i++ {
		rels = append(rels, fmt.Sprintf("dir%d/test%03d.html", i%dirs, i))
	}
	return testCases(rels...)
}

func TestNewParallelExecutorValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ExecutorConfig
	}{
		{name: "no launcher", cfg: ExecutorConfig{}},
		{name: "negative concurrency", cfg: ExecutorConfig{Launcher: newScriptedLauncher(nil), Concurrency: -1}},
		{name: "negative drain interval", cfg: ExecutorConfig{Launcher: newScriptedLauncher(nil), DrainInterval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParallelExecutor(tt.cfg)
			assert.Error(t, err)
		})
	}

	pe, err := NewParallelExecutor(ExecutorConfig{Launcher: newScriptedLauncher(nil)})
	require.NoError(t, err)
	assert.Positive(t, pe.cfg.Concurrency)
}

func TestParallelExecutorRun(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		drain       time.Duration
	}{
		{name: "single worker", concurrency: 1},
		{name: "more workers than shards", concurrency: 16},
		{name: "periodic drain", concurrency: 4, drain: time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := manyTests(60, 6)
			launcher := newScriptedLauncher(map[string][]outcome{
				all[7].URI: {outCrash},
			})
			pe := newTestExecutor(t, launcher, tt.concurrency, tt.drain)

			var got []*types.ResultRecord
			err := pe.Run(context.Background(), BuildShards(all, ShardModeDirectory, nil), 0, func(batch []*types.ResultRecord) {
				got = append(got, batch...)
			})
			require.NoError(t, err)
			require.Len(t, got, len(all))

			byTest := recordsByTest(got)
			for _, tc := range all {
				rec := byTest[types.AttemptKey{Test: tc.RelPath}]
				require.NotNil(t, rec, tc.RelPath)
				want := types.ClassPass
				if tc.RelPath == all[7].RelPath {
					want = types.ClassCrash
				}
				assert.Equal(t, want, rec.Classification, tc.RelPath)
			}

			for _, s := range pe.WorkerStates() {
				assert.Equal(t, WorkerStopped, s)
			}
			assert.Len(t, pe.WorkerStates(), min(tt.concurrency, 6))
		})
	}
}

func TestParallelExecutorShardStaysOnOneWorker(t *testing.T) {
	all := manyTests(40, 4)
	pe := newTestExecutor(t, newScriptedLauncher(nil), 4, 0)

	var got []*types.ResultRecord
	require.NoError(t, pe.Run(context.Background(), BuildShards(all, ShardModeDirectory, nil), 0, func(batch []*types.ResultRecord) {
		got = append(got, batch...)
	}))

	workerOf := make(map[string]int)
	for _, rec := range got {
		dir := rec.Test.RelPath[:4]
		if id, ok := workerOf[dir]; ok {
			assert.Equal(t, id, rec.WorkerID, "tests of %s ran on more than one worker", dir)
		}
		workerOf[dir] = rec.WorkerID
	}
}

func TestParallelExecutorStampsAttempt(t *testing.T) {
	pe := newTestExecutor(t, newScriptedLauncher(nil), 2, 0)
	var got []*types.ResultRecord
	require.NoError(t, pe.Run(context.Background(), BuildShards(manyTests(5, 5), ShardModeFullyParallel, nil), RetryAttempt, func(batch []*types.ResultRecord) {
		got = append(got, batch...)
	}))
	require.Len(t, got, 5)
	for _, rec := range got {
		assert.Equal(t, RetryAttempt, rec.Attempt)
	}
}

func TestParallelExecutorEmptyQueue(t *testing.T) {
	pe := newTestExecutor(t, newScriptedLauncher(nil), 2, 0)
	called := false
	require.NoError(t, pe.Run(context.Background(), NewWorkQueue(nil), 0, func([]*types.ResultRecord) { called = true }))
	assert.False(t, called)
}

func TestParallelExecutorAborts(t *testing.T) {
	tests := []struct {
		name    string
		outcome outcome
		wantErr string
	}{
		{name: "desync", outcome: outcome{desync: true}, wantErr: "out of sync"},
		{name: "panic", outcome: outcome{panic: true}, wantErr: "panicked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := manyTests(20, 4)
			launcher := newScriptedLauncher(map[string][]outcome{all[0].URI: {tt.outcome}})
			pe := newTestExecutor(t, launcher, 2, 0)

			var got []*types.ResultRecord
			err := pe.Run(context.Background(), BuildShards(all, ShardModeDirectory, nil), 0, func(batch []*types.ResultRecord) {
				got = append(got, batch...)
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parallel execution failed")
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Less(t, len(got), len(all))
		})
	}
}
