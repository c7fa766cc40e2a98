// Package gate decides whether a research request is understood well
// enough to act on. The external evaluator produces a confidence and a
// draft; the gate applies a deterministic threshold policy on top, so the
// same assessment always yields the same action.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"inquest/internal/config"
	"inquest/internal/llm"
	"inquest/internal/metrics"
	"inquest/internal/models"
	"inquest/internal/retriever"
)

// Evaluator assesses a request. Implemented by *llm.Client; doubles
// substitute it in tests. An input the evaluator cannot make sense of at
// all is reported with llm.ErrUnusable.
type Evaluator interface {
	Assess(ctx context.Context, req models.Request, draft models.TaskDraft, background []models.Source) (*models.Assessment, error)
}

// Searcher is the lightweight search used before clarification to verify
// domain terms. Satisfied by retriever implementations.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]retriever.SearchResult, error)
}

// Gate applies the confidence policy.
type Gate struct {
	evaluator Evaluator
	searcher  Searcher // may be nil
	logger    *zap.Logger

	mu  sync.RWMutex
	cfg config.GateConfig
}

// New builds a gate. searcher is optional; without it the pre-evaluation
// background search is skipped.
func New(evaluator Evaluator, searcher Searcher, cfg config.GateConfig, logger *zap.Logger) *Gate {
	return &Gate{evaluator: evaluator, searcher: searcher, cfg: cfg, logger: logger}
}

// UpdateConfig swaps the policy knobs. In-flight evaluations keep the old
// values.
func (g *Gate) UpdateConfig(cfg config.GateConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

func (g *Gate) currentConfig() config.GateConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Evaluate assesses one request and classifies it. satisfied lists the
// dimensions already answered in this conversation; they are never asked
// about again. An evaluator transport failure is returned as an error; an
// unusable input becomes a REJECT decision.
func (g *Gate) Evaluate(ctx context.Context, req models.Request, draft models.TaskDraft, satisfied []models.Dimension) (models.GateDecision, error) {
	background := g.preSearch(ctx, req, draft)

	a, err := g.evaluator.Assess(ctx, req, draft, background)
	if err != nil {
		if errors.Is(err, llm.ErrUnusable) {
			metrics.GateDecisions.WithLabelValues(string(models.ActionReject)).Inc()
			return models.GateDecision{
				Action: models.ActionReject,
				Draft:  draft,
				Reason: err.Error(),
			}, nil
		}
		metrics.EvaluatorErrors.Inc()
		return models.GateDecision{}, fmt.Errorf("evaluate request: %w", err)
	}

	missing := withoutSatisfied(a.Missing, satisfied)
	dec := models.GateDecision{
		Confidence: a.Confidence,
		Dimensions: a.Dimensions,
		Missing:    missing,
		Draft:      draft.Merge(a.Draft),
		Reason:     a.Reason,
	}
	dec.Action = g.classify(a.Confidence, missing)
	if dec.Action == models.ActionNeedClarification {
		dec.Clarification = g.buildClarification(req, a, missing)
	}

	metrics.GateDecisions.WithLabelValues(string(dec.Action)).Inc()
	metrics.GateConfidence.Observe(a.Confidence)
	g.logger.Info("gate decision",
		zap.String("action", string(dec.Action)),
		zap.Float64("confidence", a.Confidence),
		zap.Int("missing", len(missing)))
	return dec, nil
}

// classify maps confidence and missing dimensions to an action. In the
// band between the clarify and confirm thresholds a missing required
// dimension forces clarification; otherwise a confirmation suffices.
func (g *Gate) classify(c float64, missing []models.Dimension) models.Action {
	cfg := g.currentConfig()
	switch {
	case c >= cfg.ProceedThreshold:
		return models.ActionProceed
	case c >= cfg.ConfirmThreshold:
		return models.ActionConfirm
	case c >= cfg.ClarifyThreshold:
		if missingRequired(missing) {
			return models.ActionNeedClarification
		}
		return models.ActionConfirm
	default:
		return models.ActionNeedClarification
	}
}

// buildClarification shapes the single question asked this turn. Requests
// referencing caller-private information get one open-ended question, since
// no option list can enumerate facts only the caller knows.
func (g *Gate) buildClarification(req models.Request, a *models.Assessment, missing []models.Dimension) *models.Clarification {
	var dim models.Dimension
	if len(missing) > 0 {
		dim = missing[0]
	}

	if ReferencesPrivateInfo(req.Text) {
		q := a.Question
		if q == "" {
			q = "Could you describe in your own words what you want researched and what outcome you need?"
		}
		return &models.Clarification{Question: q, Dimension: dim, OpenEnded: true}
	}

	q := a.Question
	if q == "" {
		q = fallbackQuestion(dim)
	}
	return &models.Clarification{
		Question:  q,
		Options:   capOptions(a.Options),
		Dimension: dim,
	}
}

// capOptions bounds the option list, reserving the last slot for a
// free-text escape.
func capOptions(opts []string) []string {
	if len(opts) == 0 {
		return nil
	}
	if len(opts) >= models.MaxClarificationOptions {
		opts = opts[:models.MaxClarificationOptions-1]
	}
	return append(append([]string(nil), opts...), "Other (please specify)")
}

func fallbackQuestion(dim models.Dimension) string {
	switch dim {
	case models.DimensionSubject:
		return "What exactly should be researched?"
	case models.DimensionScope:
		return "How broad or narrow should the research be?"
	case models.DimensionGoal:
		return "What do you want to get out of this research?"
	case models.DimensionTerminology:
		return "Could you define the key terms you used?"
	default:
		return "Could you tell me more about what you need?"
	}
}

// preSearch runs one bounded search for unverified domain terms before
// evaluation, so the evaluator does not ask about terms the open web can
// explain. Any failure here is logged and ignored.
func (g *Gate) preSearch(ctx context.Context, req models.Request, draft models.TaskDraft) []models.Source {
	cfg := g.currentConfig()
	if !cfg.PreSearch || g.searcher == nil {
		return nil
	}
	if draft.Goal != "" || len(draft.ResearchFocus) > 0 {
		return nil
	}
	terms := DomainTerms(req.Text)
	if len(terms) == 0 {
		return nil
	}

	n := cfg.PreSearchResults
	if n < 1 {
		n = 3
	}
	results, err := g.searcher.Search(ctx, joinTerms(terms), n)
	if err != nil {
		g.logger.Debug("pre-clarification search failed", zap.Error(err))
		return nil
	}
	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, models.Source{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Snippet,
			Type:    models.SourceSearchResult,
		})
	}
	return sources
}

func withoutSatisfied(missing, satisfied []models.Dimension) []models.Dimension {
	if len(satisfied) == 0 {
		return missing
	}
	done := make(map[models.Dimension]bool, len(satisfied))
	for _, d := range satisfied {
		done[d] = true
	}
	var out []models.Dimension
	for _, d := range missing {
		if !done[d] {
			out = append(out, d)
		}
	}
	return out
}

func missingRequired(missing []models.Dimension) bool {
	for _, m := range missing {
		for _, r := range models.RequiredDimensions {
			if m == r {
				return true
			}
		}
	}
	return false
}
