// Package worker executes a single research subtask under the tiered time
// budgets: every retrieval call runs under the tool timeout, the whole
// subtask under the soft-exit deadline, and the caller enforces the hard
// ceiling through ctx. Workers never fail the run; whatever happens is
// reported through the result status and confidence.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"inquest/internal/config"
	"inquest/internal/metrics"
	"inquest/internal/models"
	"inquest/internal/retriever"
)

// Scorer provides the optional model-based confidence score. A nil Scorer
// or a scoring failure leaves the rule confidence in charge.
type Scorer interface {
	Score(ctx context.Context, focus string, findings []string, sources []models.Source) (float64, error)
}

// Permits is the shared retrieval permit pool. Observe feeds the adaptive
// sizing loop with per-call latency and outcome.
type Permits interface {
	Acquire(ctx context.Context) error
	Release()
	Observe(d time.Duration, err error)
}

// Tuning is the hot-reloadable subset of worker configuration.
type Tuning struct {
	Budgets  config.BudgetConfig
	Research config.ResearchConfig
}

// Worker runs research subtasks against a Retriever.
type Worker struct {
	ret    retriever.Retriever
	scorer Scorer  // may be nil
	perms  Permits // may be nil
	logger *zap.Logger

	mu     sync.RWMutex
	tuning Tuning
}

// New builds a Worker. scorer and perms are optional.
func New(ret retriever.Retriever, scorer Scorer, perms Permits, t Tuning, logger *zap.Logger) *Worker {
	return &Worker{ret: ret, scorer: scorer, perms: perms, tuning: t, logger: logger}
}

// UpdateTuning swaps in new budgets and caps. Called from the config
// manager's change handler; in-flight subtasks keep their old values.
func (w *Worker) UpdateTuning(t Tuning) {
	w.mu.Lock()
	w.tuning = t
	w.mu.Unlock()
}

func (w *Worker) currentTuning() Tuning {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tuning
}

// Run executes one subtask. ctx carries the hard ceiling; Run layers the
// soft-exit deadline below it and the tool timeout below that. The
// returned result always has a status and a confidence, never an error.
func (w *Worker) Run(ctx context.Context, st models.Subtask) models.SubtaskResult {
	start := time.Now()
	t := w.currentTuning()

	res := models.SubtaskResult{
		SubtaskID: st.ID,
		Focus:     st.Focus,
		Status:    models.StatusCompleted,
	}
	scenario := DetectScenario(st.Focus + " " + strings.Join(st.Queries, " "))

	softCtx, cancel := context.WithTimeout(ctx, t.Budgets.SoftExit)
	defer cancel()

	hits, searchCalls, searchTimeouts := w.searchAll(softCtx, st, t, &res)
	w.deepFetch(softCtx, scenario, hits, t, &res)
	w.fillFromSnippets(hits, t, &res)

	switch {
	case ctx.Err() != nil:
		// Hard ceiling or caller cancellation.
		res.Status = models.StatusFailed
		res.Findings = nil
		res.Sources = nil
	case softCtx.Err() != nil:
		res.Status = models.StatusSoftExit
	case searchCalls > 0 && searchTimeouts == searchCalls && res.FetchSuccesses == 0:
		res.Status = models.StatusTimedOut
	}

	w.scoreResult(ctx, scenario, t, &res)
	res.Elapsed = time.Since(start)

	metrics.SubtaskDuration.WithLabelValues(string(res.Status)).Observe(res.Elapsed.Seconds())
	metrics.SubtaskResults.WithLabelValues(string(res.Status)).Inc()
	w.logger.Info("subtask finished",
		zap.Int("subtask_id", st.ID),
		zap.String("status", string(res.Status)),
		zap.String("scenario", scenario.Name),
		zap.Float64("confidence", res.FinalConfidence),
		zap.Int("sources", len(res.Sources)),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

// searchAll runs every query of the subtask, deduplicating hits by URL.
// A query that times out is replaced by a degraded placeholder finding so
// the gap stays visible downstream.
func (w *Worker) searchAll(ctx context.Context, st models.Subtask, t Tuning, res *models.SubtaskResult) (hits []retriever.SearchResult, calls, timeouts int) {
	seen := make(map[string]bool)
	perQuery := st.SuggestedDepth / max(len(st.Queries), 1)
	if perQuery < 3 {
		perQuery = 3
	}

	for _, q := range st.Queries {
		if ctx.Err() != nil {
			return hits, calls, timeouts
		}
		calls++
		results, err := w.searchOnce(ctx, q, perQuery, t)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				timeouts++
				res.Findings = append(res.Findings,
					fmt.Sprintf("No timely results for %q: search timed out.", q))
			} else {
				w.logger.Warn("search failed", zap.String("query", q), zap.Error(err))
			}
			continue
		}
		for _, r := range results {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			hits = append(hits, r)
		}
	}
	return hits, calls, timeouts
}

func (w *Worker) searchOnce(ctx context.Context, query string, n int, t Tuning) ([]retriever.SearchResult, error) {
	if w.perms != nil {
		if err := w.perms.Acquire(ctx); err != nil {
			return nil, err
		}
		defer w.perms.Release()
	}
	toolCtx, cancel := context.WithTimeout(ctx, t.Budgets.ToolTimeout)
	defer cancel()

	start := time.Now()
	results, err := w.ret.Search(toolCtx, query, n)
	if w.perms != nil {
		w.perms.Observe(time.Since(start), err)
	}
	return results, err
}

// deepFetch pulls full content for the top authority-ranked hits, at most
// DeepFetchLimit of them. Every attempt is counted for the zero-fetch cap.
func (w *Worker) deepFetch(ctx context.Context, sc Scenario, hits []retriever.SearchResult, t Tuning, res *models.SubtaskResult) {
	limit := t.Research.DeepFetchLimit
	if limit < 1 || len(hits) == 0 {
		return
	}
	targets := selectDeepFetchTargets(sc, hits, limit)

	for _, hit := range targets {
		if ctx.Err() != nil {
			return
		}
		res.FetchAttempts++
		content, err := w.fetchOnce(ctx, hit.URL, t)
		if err != nil {
			w.logger.Debug("deep fetch failed", zap.String("url", hit.URL), zap.Error(err))
			continue
		}
		res.FetchSuccesses++
		res.Findings = append(res.Findings, clip(content.Text, t.Research.FindingLimit))
		res.Sources = append(res.Sources, models.Source{
			URL:       hit.URL,
			Title:     hit.Title,
			Snippet:   clip(content.Text, t.Research.SnippetLimit),
			Type:      models.SourceDeepContent,
			Published: hit.Published,
		})
	}
}

func (w *Worker) fetchOnce(ctx context.Context, pageURL string, t Tuning) (retriever.Content, error) {
	if w.perms != nil {
		if err := w.perms.Acquire(ctx); err != nil {
			return retriever.Content{}, err
		}
		defer w.perms.Release()
	}
	toolCtx, cancel := context.WithTimeout(ctx, t.Budgets.ToolTimeout)
	defer cancel()

	start := time.Now()
	content, err := w.ret.FetchContent(toolCtx, pageURL)
	if w.perms != nil {
		w.perms.Observe(time.Since(start), err)
	}
	return content, err
}

// selectDeepFetchTargets ranks hits by scenario authority, preserving the
// backend's relevance order within each band, and keeps the top n.
func selectDeepFetchTargets(sc Scenario, hits []retriever.SearchResult, n int) []retriever.SearchResult {
	ranked := make([]retriever.SearchResult, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return sc.authorityRank(hostOf(ranked[i].URL)) < sc.authorityRank(hostOf(ranked[j].URL))
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// fillFromSnippets turns remaining search hits into snippet findings and
// sources, up to the per-subtask caps. Deep-content sources keep priority.
func (w *Worker) fillFromSnippets(hits []retriever.SearchResult, t Tuning, res *models.SubtaskResult) {
	deepURLs := make(map[string]bool, len(res.Sources))
	for _, s := range res.Sources {
		deepURLs[s.URL] = true
	}
	for _, hit := range hits {
		if deepURLs[hit.URL] {
			continue
		}
		if len(res.Sources) < t.Research.MaxSourcesPerSubtask {
			res.Sources = append(res.Sources, models.Source{
				URL:       hit.URL,
				Title:     hit.Title,
				Snippet:   clip(hit.Snippet, t.Research.SnippetLimit),
				Type:      models.SourceSearchResult,
				Published: hit.Published,
			})
		}
		if len(res.Findings) < t.Research.MaxFindingsPerSubtask && hit.Snippet != "" {
			res.Findings = append(res.Findings, clip(hit.Title+": "+hit.Snippet, t.Research.FindingLimit))
		}
	}
	if len(res.Findings) > t.Research.MaxFindingsPerSubtask {
		res.Findings = res.Findings[:t.Research.MaxFindingsPerSubtask]
	}
	if len(res.Sources) > t.Research.MaxSourcesPerSubtask {
		res.Sources = res.Sources[:t.Research.MaxSourcesPerSubtask]
	}
}

// scoreResult computes rule confidence, optionally blends in the model
// score, and applies the mandatory zero-fetch cap last.
func (w *Worker) scoreResult(ctx context.Context, sc Scenario, t Tuning, res *models.SubtaskResult) {
	if res.Status == models.StatusFailed {
		res.RuleConfidence = 0
		res.FinalConfidence = 0
		return
	}

	res.RuleConfidence = ruleConfidence(sc.Weight, len(res.Sources), res.FetchSuccesses)
	res.FinalConfidence = res.RuleConfidence

	if w.scorer != nil && res.Status == models.StatusCompleted && len(res.Findings) > 0 {
		scoreCtx, cancel := context.WithTimeout(ctx, t.Budgets.ToolTimeout)
		model, err := w.scorer.Score(scoreCtx, res.Focus, res.Findings, res.Sources)
		cancel()
		if err != nil {
			w.logger.Warn("model scoring failed, keeping rule confidence",
				zap.Int("subtask_id", res.SubtaskID), zap.Error(err))
		} else {
			res.ModelConfidence = model
			res.ModelScored = true
			wgt := t.Research.BlendWeight
			res.FinalConfidence = res.RuleConfidence*(1-wgt) + model*wgt
		}
	}

	if res.Status == models.StatusSoftExit && res.FinalConfidence > 0.5 {
		res.FinalConfidence = 0.5
	}
	// Nothing was actually read in full: confidence may not exceed 0.5.
	if res.FetchAttempts > 0 && res.FetchSuccesses == 0 && res.FinalConfidence > 0.5 {
		res.FinalConfidence = 0.5
		metrics.ConfidenceCapped.Inc()
	}
}

// ruleConfidence is the deterministic coverage score: a 0.5 base plus
// source and deep-fetch contributions, scaled by the scenario weight and
// capped at 0.95.
func ruleConfidence(weight float64, sources, deepFetched int) float64 {
	c := 0.5
	c += min(0.1*float64(sources), 0.3)
	c += min(0.15*float64(deepFetched), 0.3)
	c *= weight
	return min(c, 0.95)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never splits a code point.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "…"
}
