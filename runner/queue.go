package runner

import (
	"context"
	"sync"

	"github.com/ethereum-optimism/infra/layout-tester/types"
)

// WorkQueue is the FIFO of shards shared by all workers. It is filled and
// closed before any worker starts, so Pop never waits for a producer.
type WorkQueue struct {
	shards chan types.Shard
	size   int
	tests  int
}

// NewWorkQueue returns a closed queue holding shards in order
func NewWorkQueue(shards []types.Shard) *WorkQueue {
	q := &WorkQueue{
		shards: make(chan types.Shard, len(shards)),
		size:   len(shards),
	}
	for _, s := range shards {
		q.shards <- s
		q.tests += len(s.Tests)
	}
	close(q.shards)
	return q
}

// Pop returns the next shard. ok is false once the queue is drained or ctx is done.
func (q *WorkQueue) Pop(ctx context.Context) (types.Shard, bool) {
	if ctx.Err() != nil {
		return types.Shard{}, false
	}
	select {
	case s, ok := <-q.shards:
		return s, ok
	case <-ctx.Done():
		return types.Shard{}, false
	}
}

// Len returns the number of shards the queue was built with
func (q *WorkQueue) Len() int {
	return q.size
}

// NumTests returns the number of tests across all shards
func (q *WorkQueue) NumTests() int {
	return q.tests
}

// ResultQueue is an unbounded FIFO of records. Workers push, the coordinator drains.
type ResultQueue struct {
	mu      sync.Mutex
	records []*types.ResultRecord
}

// NewResultQueue returns an empty queue
func NewResultQueue() *ResultQueue {
	return &ResultQueue{}
}

// Push appends a record; it never blocks on the consumer
func (q *ResultQueue) Push(r *types.ResultRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, r)
}

// Drain removes and returns every pending record
func (q *ResultQueue) Drain() []*types.ResultRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.records
	q.records = nil
	return out
}

// Len returns the number of pending records
func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
