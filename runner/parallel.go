package runner

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/layout-tester/checkers"
	"github.com/ethereum-optimism/infra/layout-tester/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// ExecutorConfig configures a ParallelExecutor
type ExecutorConfig struct {
	Log log.Logger
	// Concurrency is the number of workers, runtime.NumCPU() when zero
	Concurrency int
	// DrainInterval is how often results are drained while workers run. Zero
	// drains once, after every worker has finished.
	DrainInterval time.Duration
	Launcher      DriverLauncher
	Checkers      []checkers.Checker
	Progress      ProgressIndicator
	NewBaseline   bool
	RunSingly     bool
	OnHang        func(ctx context.Context) error
}

// ParallelExecutor runs a fixed pool of workers over a WorkQueue
type ParallelExecutor struct {
	cfg ExecutorConfig
	log log.Logger

	mu      sync.Mutex
	workers []*Worker
}

// NewParallelExecutor creates a new parallel test executor with validation
func NewParallelExecutor(cfg ExecutorConfig) (*ParallelExecutor, error) {
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("launcher cannot be nil")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency cannot be negative")
	}
	if cfg.DrainInterval < 0 {
		return nil, fmt.Errorf("drain interval cannot be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = runtime.NumCPU()
	}

	// Log a warning for unreasonable concurrency values
	if cfg.Concurrency > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high concurrency requested", "concurrency", cfg.Concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}

	return &ParallelExecutor{
		cfg: cfg,
		log: cfg.Log.New("component", "parallel-executor"),
	}, nil
}

// Run executes every shard in queue on up to Concurrency workers, stamping
// records with attempt. consume receives the drained records in the order the
// workers pushed them and is only ever called from the calling goroutine.
//
// The first worker error cancels the others and is returned once they have
// stopped. Records pushed before the error are still handed to consume.
func (pe *ParallelExecutor) Run(ctx context.Context, queue *WorkQueue, attempt int, consume func([]*types.ResultRecord)) error {
	start := time.Now()
	n := min(pe.cfg.Concurrency, queue.Len())
	if n == 0 {
		pe.log.Debug("No shards to execute")
		return nil
	}

	pe.log.Info("Starting parallel test execution",
		"shards", queue.Len(),
		"tests", queue.NumTests(),
		"workers", n,
		"attempt", attempt)

	results := NewResultQueue()
	workers := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		w, err := NewWorker(WorkerConfig{
			ID:          i,
			Log:         pe.cfg.Log,
			Launcher:    pe.cfg.Launcher,
			Checkers:    pe.cfg.Checkers,
			Results:     results,
			Progress:    pe.cfg.Progress,
			Attempt:     attempt,
			NewBaseline: pe.cfg.NewBaseline,
			RunSingly:   pe.cfg.RunSingly,
			OnHang:      pe.cfg.OnHang,
		})
		if err != nil {
			return err
		}
		workers = append(workers, w)
	}
	pe.mu.Lock()
	pe.workers = workers
	pe.mu.Unlock()

	p := pool.New().
		WithErrors().
		WithFirstError().
		WithContext(ctx).
		WithCancelOnError()
	for _, w := range workers {
		p.Go(func(ctx context.Context) error {
			var err error
			if recovered := panics.Try(func() { err = w.Run(ctx, queue) }); recovered != nil {
				return fmt.Errorf("worker %d panicked: %w", w.ID(), recovered.AsError())
			}
			return err
		})
	}

	var err error
	if pe.cfg.DrainInterval > 0 {
		err = pe.drainWhileRunning(p, results, consume)
	} else {
		err = p.Wait()
		if batch := results.Drain(); len(batch) > 0 {
			consume(batch)
		}
	}
	if err != nil {
		pe.log.Error("Parallel execution aborted", "error", err, "duration", time.Since(start))
		return fmt.Errorf("parallel execution failed: %w", err)
	}

	pe.log.Info("Parallel test execution completed", "duration", time.Since(start), "attempt", attempt)
	return nil
}

// drainWhileRunning hands results over on every tick until the pool is done,
// then drains whatever is left
func (pe *ParallelExecutor) drainWhileRunning(p *pool.ContextPool, results *ResultQueue, consume func([]*types.ResultRecord)) error {
	done := make(chan error, 1)
	go func() {
		done <- p.Wait()
	}()

	ticker := time.NewTicker(pe.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if batch := results.Drain(); len(batch) > 0 {
				consume(batch)
			}
		case err := <-done:
			if batch := results.Drain(); len(batch) > 0 {
				consume(batch)
			}
			return err
		}
	}
}

// WorkerStates reports the state of each worker of the current or last pass
func (pe *ParallelExecutor) WorkerStates() []WorkerState {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	states := make([]WorkerState, len(pe.workers))
	for i, w := range pe.workers {
		states[i] = w.State()
	}
	return states
}
