// Package planner turns an accepted task draft into independent research
// subtasks. Decomposition itself is deterministic; only query wording may
// come from the optional suggestion capability, with a deterministic
// fallback when it is unavailable.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"inquest/internal/metrics"
	"inquest/internal/models"
)

// QuerySuggester proposes search queries for one focus. Implemented by
// *llm.Client; nil disables suggestions entirely.
type QuerySuggester interface {
	SuggestQueries(ctx context.Context, goal, focus string) ([]string, error)
}

const maxQueriesPerSubtask = 2

// Decomposer builds the subtask plan.
type Decomposer struct {
	suggester QuerySuggester // may be nil
	logger    *zap.Logger
}

// New builds a decomposer. suggester is optional.
func New(suggester QuerySuggester, logger *zap.Logger) *Decomposer {
	return &Decomposer{suggester: suggester, logger: logger}
}

// Decompose maps each research focus to one subtask. A draft without
// focuses still yields exactly one subtask covering the goal, so research
// can always start once the gate has passed the request.
func (d *Decomposer) Decompose(ctx context.Context, draft models.TaskDraft) []models.Subtask {
	focuses := draft.ResearchFocus
	if len(focuses) == 0 {
		metrics.DecompositionFallbacks.Inc()
		d.logger.Info("draft has no focuses, planning a single goal subtask")
		focuses = []string{draft.Goal}
	}

	depth := suggestedDepth(len(focuses))
	subtasks := make([]models.Subtask, 0, len(focuses))
	for i, focus := range focuses {
		subtasks = append(subtasks, models.Subtask{
			ID:             i + 1,
			Focus:          focus,
			Queries:        d.queriesFor(ctx, draft.Goal, focus),
			SuggestedDepth: depth,
		})
	}

	metrics.SubtasksPlanned.Observe(float64(len(subtasks)))
	d.logger.Info("task decomposed",
		zap.Int("subtasks", len(subtasks)),
		zap.Int("depth", depth))
	return subtasks
}

// queriesFor asks the suggestion capability for query wording and falls
// back to deterministic phrasing on any failure.
func (d *Decomposer) queriesFor(ctx context.Context, goal, focus string) []string {
	if d.suggester != nil {
		queries, err := d.suggester.SuggestQueries(ctx, goal, focus)
		if err != nil {
			d.logger.Warn("query suggestion failed, using fallback",
				zap.String("focus", focus), zap.Error(err))
		} else if qs := sanitizeQueries(queries); len(qs) > 0 {
			return qs
		}
	}
	return fallbackQueries(goal, focus)
}

func sanitizeQueries(queries []string) []string {
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxQueriesPerSubtask {
			break
		}
	}
	return out
}

// fallbackQueries phrases the focus alone and, when they differ, the focus
// in the context of the goal.
func fallbackQueries(goal, focus string) []string {
	queries := []string{focus}
	if goal != "" && !strings.EqualFold(goal, focus) {
		queries = append(queries, fmt.Sprintf("%s %s", focus, goal))
	}
	return queries
}

// suggestedDepth scales result depth with plan size: wider plans get more
// depth per subtask, up to a ceiling.
func suggestedDepth(n int) int {
	switch {
	case n <= 2:
		return 8 + n
	case n <= 4:
		return 10 + n
	default:
		return min(12+n, 25)
	}
}
