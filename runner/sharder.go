package runner

import (
	"path"
	"sort"

	"github.com/ethereum-optimism/infra/layout-tester/registry"
	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// ShardMode selects how tests are grouped into shards
type ShardMode int

const (
	// ShardModeDirectory groups tests by directory so each directory runs on one driver
	ShardModeDirectory ShardMode = iota
	// ShardModeFullyParallel gives every test its own shard
	ShardModeFullyParallel
)

func (m ShardMode) String() string {
	switch m {
	case ShardModeFullyParallel:
		return "fully-parallel"
	default:
		return "directory"
	}
}

// BuildShards groups tests into an ordered, closed WorkQueue.
//
// In directory mode the key of a test is its parent directory below any
// container directories, except that every test needing the HTTP server shares
// the key "http". Tests within a shard appear in reverse input order. Shards
// are queued largest first, ties broken by key, and the http shard always
// comes first regardless of its size.
func BuildShards(tests []types.TestCase, mode ShardMode, containerDirs []string) *WorkQueue {
	if mode == ShardModeFullyParallel {
		shards := make([]types.Shard, 0, len(tests))
		for _, tc := range tests {
			shards = append(shards, types.Shard{Key: tc.RelPath, Tests: []types.TestCase{tc}})
		}
		return NewWorkQueue(shards)
	}

	byKey := make(map[string][]types.TestCase)
	for i := len(tests) - 1; i >= 0; i-- {
		tc := tests[i]
		key := shardKey(tc, containerDirs)
		byKey[key] = append(byKey[key], tc)
	}

	var httpShard *types.Shard
	shards := make([]types.Shard, 0, len(byKey))
	for key, group := range byKey {
		if key == HTTPShardKey {
			httpShard = &types.Shard{Key: key, Tests: group}
			continue
		}
		shards = append(shards, types.Shard{Key: key, Tests: group})
	}
	sort.SliceStable(shards, func(i, j int) bool {
		if len(shards[i].Tests) != len(shards[j].Tests) {
			return len(shards[i].Tests) > len(shards[j].Tests)
		}
		return shards[i].Key < shards[j].Key
	})
	if httpShard != nil {
		shards = append([]types.Shard{*httpShard}, shards...)
	}
	return NewWorkQueue(shards)
}

// shardKey returns the directory a test is grouped under
func shardKey(tc types.TestCase, containerDirs []string) string {
	if tc.IsHTTP {
		return HTTPShardKey
	}
	return path.Dir(registry.StripContainerDirs(tc.RelPath, containerDirs))
}
