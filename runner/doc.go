// Package runner executes layout tests against a pool of driver processes.
//
// The main components are:
//   - BuildShards: groups tests by directory and orders the groups for load balancing
//   - WorkQueue / ResultQueue: the only state shared between workers
//   - Worker: owns one driver process and runs shards on it, one test at a time
//   - ParallelExecutor: runs a fixed pool of workers over a WorkQueue
//   - Aggregator: classifies results against the expectations
//   - RetryCoordinator: re-runs unexpected failures once to separate flakes from regressions
//   - TestRunner: ties gathering, sharding, execution, aggregation and retry together
//
// Tests in a shard run strictly in order on the same driver; nothing is
// promised about ordering across shards or workers.
package runner
