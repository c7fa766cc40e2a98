package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inquest/internal/models"
)

type stubRunner struct {
	fn func(ctx context.Context, st models.Subtask) models.SubtaskResult
}

func (s *stubRunner) Run(ctx context.Context, st models.Subtask) models.SubtaskResult {
	return s.fn(ctx, st)
}

func subtasks(n int) []models.Subtask {
	out := make([]models.Subtask, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Subtask{ID: i + 1, Focus: fmt.Sprintf("focus %d", i+1)})
	}
	return out
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, st models.Subtask) models.SubtaskResult {
		// Later subtasks finish first.
		time.Sleep(time.Duration(10-st.ID) * time.Millisecond)
		return models.SubtaskResult{SubtaskID: st.ID, Focus: st.Focus, Status: models.StatusCompleted}
	}}
	p := New(runner, 8, time.Minute, zap.NewNop())

	results := p.ExecuteAll(context.Background(), subtasks(8))
	require.Len(t, results, 8)
	for i, r := range results {
		assert.Equal(t, i+1, r.SubtaskID)
	}
}

func TestExecuteAllBoundsParallelism(t *testing.T) {
	var running, peak int64
	var mu sync.Mutex
	runner := &stubRunner{fn: func(ctx context.Context, st models.Subtask) models.SubtaskResult {
		n := atomic.AddInt64(&running, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&running, -1)
		return models.SubtaskResult{SubtaskID: st.ID, Status: models.StatusCompleted}
	}}
	p := New(runner, 3, time.Minute, zap.NewNop())

	p.ExecuteAll(context.Background(), subtasks(10))
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(3))
}

func TestExecuteAllConvertsPanicToFailed(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, st models.Subtask) models.SubtaskResult {
		if st.ID == 2 {
			panic("worker exploded")
		}
		return models.SubtaskResult{SubtaskID: st.ID, Status: models.StatusCompleted, FinalConfidence: 0.8}
	}}
	p := New(runner, 4, time.Minute, zap.NewNop())

	results := p.ExecuteAll(context.Background(), subtasks(3))
	require.Len(t, results, 3)
	assert.Equal(t, models.StatusCompleted, results[0].Status)
	assert.Equal(t, models.StatusFailed, results[1].Status)
	assert.Zero(t, results[1].FinalConfidence)
	assert.Equal(t, 2, results[1].SubtaskID)
	assert.Equal(t, models.StatusCompleted, results[2].Status)
}

func TestExecuteAllTotalFailureStillReturnsAll(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, st models.Subtask) models.SubtaskResult {
		panic("everything is broken")
	}}
	p := New(runner, 2, time.Minute, zap.NewNop())

	results := p.ExecuteAll(context.Background(), subtasks(4))
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, models.StatusFailed, r.Status)
	}
}

func TestExecuteAllAppliesHardCeiling(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, st models.Subtask) models.SubtaskResult {
		<-ctx.Done()
		return models.SubtaskResult{SubtaskID: st.ID, Status: models.StatusFailed}
	}}
	p := New(runner, 2, 30*time.Millisecond, zap.NewNop())

	start := time.Now()
	results := p.ExecuteAll(context.Background(), subtasks(2))
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, results, 2)
}

func TestExecuteAllEmptyPlan(t *testing.T) {
	p := New(&stubRunner{fn: nil}, 2, time.Minute, zap.NewNop())
	assert.Empty(t, p.ExecuteAll(context.Background(), nil))
}
