// Package pool fans research subtasks out over a bounded set of workers
// and collects results in input order. A failing or panicking subtask
// never takes down its siblings; it becomes a FAILED result in place.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"inquest/internal/metrics"
	"inquest/internal/models"
)

// Runner executes one subtask. Satisfied by *worker.Worker.
type Runner interface {
	Run(ctx context.Context, st models.Subtask) models.SubtaskResult
}

// Pool is the subtask executor.
type Pool struct {
	runner Runner
	logger *zap.Logger

	mu          sync.RWMutex
	maxParallel int
	hardCeiling time.Duration
}

// New creates a pool running at most maxParallel subtasks at a time, each
// under the hard ceiling.
func New(runner Runner, maxParallel int, hardCeiling time.Duration, logger *zap.Logger) *Pool {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Pool{
		runner:      runner,
		logger:      logger,
		maxParallel: maxParallel,
		hardCeiling: hardCeiling,
	}
}

// UpdateTuning adjusts parallelism and the hard ceiling for future calls.
func (p *Pool) UpdateTuning(maxParallel int, hardCeiling time.Duration) {
	if maxParallel < 1 {
		maxParallel = 1
	}
	p.mu.Lock()
	p.maxParallel = maxParallel
	p.hardCeiling = hardCeiling
	p.mu.Unlock()
}

// ExecuteAll runs every subtask and returns one result per input, in input
// order. It always returns exactly len(subtasks) results; a subtask that
// panics or overruns its hard ceiling yields a FAILED result.
func (p *Pool) ExecuteAll(ctx context.Context, subtasks []models.Subtask) []models.SubtaskResult {
	p.mu.RLock()
	maxParallel, hardCeiling := p.maxParallel, p.hardCeiling
	p.mu.RUnlock()

	results := make([]models.SubtaskResult, len(subtasks))
	slots := make(chan struct{}, min(len(subtasks), maxParallel))

	var wg sync.WaitGroup
	for i, st := range subtasks {
		wg.Add(1)
		go func(i int, st models.Subtask) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()
			results[i] = p.runOne(ctx, st, hardCeiling)
		}(i, st)
	}
	wg.Wait()
	return results
}

func (p *Pool) runOne(ctx context.Context, st models.Subtask, hardCeiling time.Duration) (res models.SubtaskResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanics.Inc()
			p.logger.Error("worker panic",
				zap.Int("subtask_id", st.ID),
				zap.Any("panic", r))
			res = models.SubtaskResult{
				SubtaskID:       st.ID,
				Focus:           st.Focus,
				Status:          models.StatusFailed,
				FinalConfidence: 0,
				Elapsed:         time.Since(start),
			}
		}
	}()

	hardCtx, cancel := context.WithTimeout(ctx, hardCeiling)
	defer cancel()
	return p.runner.Run(hardCtx, st)
}
