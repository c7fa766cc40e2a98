package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inquest/internal/config"
	"inquest/internal/models"
	"inquest/internal/retriever"
)

type stubRetriever struct {
	searchFn func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error)
	fetchFn  func(ctx context.Context, url string) (retriever.Content, error)
}

func (s *stubRetriever) Search(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
	return s.searchFn(ctx, query, n)
}

func (s *stubRetriever) FetchContent(ctx context.Context, url string) (retriever.Content, error) {
	if s.fetchFn == nil {
		return retriever.Content{}, errors.New("no fetch")
	}
	return s.fetchFn(ctx, url)
}

type stubScorer struct {
	score float64
	err   error
}

func (s *stubScorer) Score(ctx context.Context, focus string, findings []string, sources []models.Source) (float64, error) {
	return s.score, s.err
}

func testTuning() Tuning {
	return Tuning{
		Budgets: config.BudgetConfig{
			ToolTimeout: 5 * time.Second,
			SoftExit:    10 * time.Second,
			HardCeiling: 30 * time.Second,
		},
		Research: config.ResearchConfig{
			MaxParallelWorkers:    2,
			BlendWeight:           0.3,
			MaxFindingsPerSubtask: 5,
			MaxSourcesPerSubtask:  8,
			SnippetLimit:          300,
			FindingLimit:          300,
			DeepFetchLimit:        3,
		},
	}
}

func hitsFor(n int) []retriever.SearchResult {
	hits := make([]retriever.SearchResult, 0, n)
	for i := 0; i < n; i++ {
		hits = append(hits, retriever.SearchResult{
			Title:   fmt.Sprintf("result %d", i),
			URL:     fmt.Sprintf("https://example.org/doc/%d", i),
			Snippet: fmt.Sprintf("snippet %d", i),
		})
	}
	return hits
}

func stubHit(url string) retriever.SearchResult {
	return retriever.SearchResult{Title: url, URL: url, Snippet: "snippet"}
}

func TestRunCompleted(t *testing.T) {
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			return hitsFor(4), nil
		},
		fetchFn: func(ctx context.Context, url string) (retriever.Content, error) {
			return retriever.Content{Text: "full document text for " + url}, nil
		},
	}
	w := New(ret, nil, nil, testTuning(), zap.NewNop())

	res := w.Run(context.Background(), models.Subtask{ID: 1, Focus: "efficacy", Queries: []string{"drug efficacy"}, SuggestedDepth: 9})
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.FetchAttempts)
	assert.Equal(t, 3, res.FetchSuccesses)
	assert.NotEmpty(t, res.Findings)
	assert.NotEmpty(t, res.Sources)
	assert.Greater(t, res.FinalConfidence, 0.5)
	assert.LessOrEqual(t, res.FinalConfidence, 0.95)

	deep := 0
	for _, src := range res.Sources {
		if src.Type == models.SourceDeepContent {
			deep++
		}
	}
	assert.Equal(t, 3, deep)
}

func TestRunZeroFetchSuccessCapsConfidence(t *testing.T) {
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			return hitsFor(8), nil
		},
		fetchFn: func(ctx context.Context, url string) (retriever.Content, error) {
			return retriever.Content{}, errors.New("blocked")
		},
	}
	w := New(ret, nil, nil, testTuning(), zap.NewNop())

	res := w.Run(context.Background(), models.Subtask{ID: 1, Focus: "anything", Queries: []string{"q"}})
	assert.Equal(t, models.StatusCompleted, res.Status)
	require.Greater(t, res.FetchAttempts, 0)
	assert.Zero(t, res.FetchSuccesses)
	assert.LessOrEqual(t, res.FinalConfidence, 0.5)
}

func TestRunAllSearchesTimedOut(t *testing.T) {
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	w := New(ret, nil, nil, testTuning(), zap.NewNop())

	res := w.Run(context.Background(), models.Subtask{ID: 1, Focus: "f", Queries: []string{"a", "b"}})
	assert.Equal(t, models.StatusTimedOut, res.Status)
	// Degraded placeholder findings keep the gaps visible.
	assert.Len(t, res.Findings, 2)
	assert.Empty(t, res.Sources)
}

func TestRunSoftExitReturnsPartialResult(t *testing.T) {
	tuning := testTuning()
	tuning.Budgets.ToolTimeout = 200 * time.Millisecond
	tuning.Budgets.SoftExit = 250 * time.Millisecond

	calls := 0
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			calls++
			if calls == 1 {
				return hitsFor(2), nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
		fetchFn: func(ctx context.Context, url string) (retriever.Content, error) {
			return retriever.Content{}, errors.New("skip deep fetch")
		},
	}
	w := New(ret, nil, nil, tuning, zap.NewNop())

	res := w.Run(context.Background(), models.Subtask{ID: 1, Focus: "f", Queries: []string{"fast", "slow", "never"}})
	assert.Equal(t, models.StatusSoftExit, res.Status)
	assert.NotEmpty(t, res.Sources, "data gathered before the deadline is kept")
	assert.LessOrEqual(t, res.FinalConfidence, 0.5)
}

func TestRunCanceledContextFails(t *testing.T) {
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			return hitsFor(2), nil
		},
	}
	w := New(ret, nil, nil, testTuning(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := w.Run(ctx, models.Subtask{ID: 1, Focus: "f", Queries: []string{"q"}})
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Zero(t, res.FinalConfidence)
	assert.Empty(t, res.Findings)
}

func TestRunBlendsModelScore(t *testing.T) {
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			return hitsFor(3), nil
		},
		fetchFn: func(ctx context.Context, url string) (retriever.Content, error) {
			return retriever.Content{Text: "content"}, nil
		},
	}
	w := New(ret, &stubScorer{score: 0.9}, nil, testTuning(), zap.NewNop())

	res := w.Run(context.Background(), models.Subtask{ID: 1, Focus: "f", Queries: []string{"q"}})
	require.True(t, res.ModelScored)
	want := res.RuleConfidence*0.7 + 0.9*0.3
	assert.InDelta(t, want, res.FinalConfidence, 1e-9)
}

func TestRunScorerFailureKeepsRuleConfidence(t *testing.T) {
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			return hitsFor(3), nil
		},
		fetchFn: func(ctx context.Context, url string) (retriever.Content, error) {
			return retriever.Content{Text: "content"}, nil
		},
	}
	w := New(ret, &stubScorer{err: errors.New("scorer down")}, nil, testTuning(), zap.NewNop())

	res := w.Run(context.Background(), models.Subtask{ID: 1, Focus: "f", Queries: []string{"q"}})
	assert.False(t, res.ModelScored)
	assert.Equal(t, res.RuleConfidence, res.FinalConfidence)
}

func TestRuleConfidence(t *testing.T) {
	tests := []struct {
		weight  float64
		sources int
		deep    int
		want    float64
	}{
		{1.0, 0, 0, 0.5},
		{1.0, 2, 0, 0.7},
		{1.0, 3, 2, 0.95}, // 0.5+0.3+0.3 capped
		{0.75, 3, 2, 0.825},
		{0.6, 10, 10, 0.66}, // both contributions capped at 0.3
	}
	for _, tt := range tests {
		got := ruleConfidence(tt.weight, tt.sources, tt.deep)
		assert.InDelta(t, tt.want, got, 1e-9, "weight=%v sources=%d deep=%d", tt.weight, tt.sources, tt.deep)
	}
}

func TestRunCapsFindingsAndSources(t *testing.T) {
	ret := &stubRetriever{
		searchFn: func(ctx context.Context, query string, n int) ([]retriever.SearchResult, error) {
			return hitsFor(20), nil
		},
		fetchFn: func(ctx context.Context, url string) (retriever.Content, error) {
			return retriever.Content{Text: "content"}, nil
		},
	}
	tuning := testTuning()
	w := New(ret, nil, nil, tuning, zap.NewNop())

	res := w.Run(context.Background(), models.Subtask{ID: 1, Focus: "f", Queries: []string{"q"}})
	assert.LessOrEqual(t, len(res.Findings), tuning.Research.MaxFindingsPerSubtask)
	assert.LessOrEqual(t, len(res.Sources), tuning.Research.MaxSourcesPerSubtask)
}

func TestClipCutsAtRuneBoundary(t *testing.T) {
	s := "naïve résumé données"
	for n := 1; n <= len(s); n++ {
		assert.True(t, utf8.ValidString(clip(s, n)), "cut at %d", n)
	}
	assert.Equal(t, s, clip(s, 0), "zero cap disables clipping")
	assert.Equal(t, s, clip(s, len(s)))
	// A cut inside the two-byte ï backs up and keeps the ellipsis marker.
	assert.Equal(t, "na…", clip(s, 3))
}
