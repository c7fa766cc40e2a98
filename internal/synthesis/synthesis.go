// Package synthesis merges subtask results into one aggregate: findings
// grouped per focus with duplicates resolved, deduplicated citations with
// stable short IDs, an overall confidence, and a synthesis text. The
// merge is deterministic; only the synthesis wording comes from the
// composition capability, and a mechanical fallback covers its failure.
package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"inquest/internal/config"
	"inquest/internal/metrics"
	"inquest/internal/models"
)

// Composer writes the synthesis text. Implemented by *llm.Client; nil
// means the mechanical fallback is always used.
type Composer interface {
	Compose(ctx context.Context, goal string, groups []models.FocusGroup, citations []models.Citation) (string, error)
}

// degradedPenalty is subtracted from the overall confidence for each
// subtask that did not complete normally.
const degradedPenalty = 0.05

// Synthesizer merges subtask results.
type Synthesizer struct {
	composer Composer // may be nil
	rules    *AuthorityRules
	cfg      config.SynthesisConfig
	logger   *zap.Logger
}

// New builds a synthesizer. rules nil falls back to the defaults.
func New(composer Composer, rules *AuthorityRules, cfg config.SynthesisConfig, logger *zap.Logger) *Synthesizer {
	if rules == nil {
		rules = DefaultAuthorityRules()
	}
	return &Synthesizer{composer: composer, rules: rules, cfg: cfg, logger: logger}
}

// Synthesize merges results (one per subtask, in plan order) into the
// aggregate. It never fails: with every capability down it still returns
// grouped findings, citations and the fallback synthesis.
func (s *Synthesizer) Synthesize(ctx context.Context, goal string, results []models.SubtaskResult) models.AggregateResult {
	start := time.Now()

	agg := models.AggregateResult{Goal: goal}
	for _, r := range results {
		if !r.Completed() {
			agg.DegradedCount++
		}
	}

	winners := resolveDuplicates(results, s.rules)
	agg.Groups = s.buildGroups(results, winners)
	agg.Citations = s.buildCitations(results)
	agg.OverallConfidence = overallConfidence(results, agg.DegradedCount)
	agg.Synthesis = s.composeText(ctx, goal, agg)

	metrics.SynthesisDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("synthesis complete",
		zap.Int("groups", len(agg.Groups)),
		zap.Int("citations", len(agg.Citations)),
		zap.Int("degraded", agg.DegradedCount),
		zap.Float64("overall_confidence", agg.OverallConfidence))
	return agg
}

// findingInstance is one occurrence of a finding in some result.
type findingInstance struct {
	subtaskID int
	text      string
	tier      int       // best authority tier among the result's sources
	latest    time.Time // most recent published date among them
	sources   int       // how many sources the result carries
}

// resolveDuplicates picks, for every distinct finding, the single result
// allowed to carry it. The winner has the best source authority tier,
// then the most recent evidence, then the most sources backing it; the
// final tiebreak on the lower subtask ID keeps the outcome independent
// of the order the results arrive in.
func resolveDuplicates(results []models.SubtaskResult, rules *AuthorityRules) map[string]findingInstance {
	deduped := 0
	winners := make(map[string]findingInstance)
	for _, r := range results {
		tier, latest := evidenceRank(r.Sources, rules)
		for _, f := range r.Findings {
			key := normalizeFinding(f)
			if key == "" {
				continue
			}
			inst := findingInstance{subtaskID: r.SubtaskID, text: f, tier: tier, latest: latest, sources: len(r.Sources)}
			cur, ok := winners[key]
			if !ok {
				winners[key] = inst
				continue
			}
			deduped++
			if beats(inst, cur) {
				winners[key] = inst
			}
		}
	}
	if deduped > 0 {
		metrics.FindingsDeduped.Add(float64(deduped))
	}
	return winners
}

func beats(a, b findingInstance) bool {
	if a.tier != b.tier {
		return a.tier < b.tier
	}
	if !a.latest.Equal(b.latest) {
		return a.latest.After(b.latest)
	}
	if a.sources != b.sources {
		return a.sources > b.sources
	}
	return a.subtaskID < b.subtaskID
}

func evidenceRank(sources []models.Source, rules *AuthorityRules) (tier int, latest time.Time) {
	tier = unknownTier
	for _, src := range sources {
		if t := rules.TierFor(src.URL); t < tier {
			tier = t
		}
		if src.Published.After(latest) {
			latest = src.Published
		}
	}
	return tier, latest
}

// buildGroups assembles one group per result in plan order, keeping only
// the findings that result won, up to the per-focus cap.
func (s *Synthesizer) buildGroups(results []models.SubtaskResult, winners map[string]findingInstance) []models.FocusGroup {
	groups := make([]models.FocusGroup, 0, len(results))
	for _, r := range results {
		g := models.FocusGroup{Focus: r.Focus, Confidence: r.FinalConfidence}
		for _, f := range r.Findings {
			if len(g.Findings) >= s.cfg.MaxFindingsPerFocus && s.cfg.MaxFindingsPerFocus > 0 {
				break
			}
			if w, ok := winners[normalizeFinding(f)]; ok && w.subtaskID == r.SubtaskID && w.text == f {
				g.Findings = append(g.Findings, f)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// buildCitations deduplicates sources by URL across all results and
// orders them by authority tier, then recency, then first appearance.
// IDs are assigned after ordering, so "S1" is always the strongest source.
func (s *Synthesizer) buildCitations(results []models.SubtaskResult) []models.Citation {
	type entry struct {
		src   models.Source
		tier  int
		order int
	}
	seen := make(map[string]bool)
	var entries []entry
	for _, r := range results {
		kept := 0
		for _, src := range r.Sources {
			if s.cfg.MaxSourcesPerFocus > 0 && kept >= s.cfg.MaxSourcesPerFocus {
				break
			}
			if src.URL == "" || seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			entries = append(entries, entry{src: src, tier: s.rules.TierFor(src.URL), order: len(entries)})
			kept++
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].tier != entries[j].tier {
			return entries[i].tier < entries[j].tier
		}
		if !entries[i].src.Published.Equal(entries[j].src.Published) {
			return entries[i].src.Published.After(entries[j].src.Published)
		}
		return entries[i].order < entries[j].order
	})

	citations := make([]models.Citation, 0, len(entries))
	for i, e := range entries {
		citations = append(citations, models.Citation{
			ID:      fmt.Sprintf("S%d", i+1),
			URL:     e.src.URL,
			Title:   e.src.Title,
			Snippet: e.src.Snippet,
		})
	}
	return citations
}

// overallConfidence is the mean of the per-subtask confidences, reduced
// by a fixed penalty per degraded subtask, clamped to [0,1].
func overallConfidence(results []models.SubtaskResult, degraded int) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.FinalConfidence
	}
	c := sum/float64(len(results)) - degradedPenalty*float64(degraded)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func (s *Synthesizer) composeText(ctx context.Context, goal string, agg models.AggregateResult) string {
	if s.composer != nil {
		text, err := s.composer.Compose(ctx, goal, agg.Groups, agg.Citations)
		if err == nil {
			return text
		}
		metrics.SynthesisFallbacks.Inc()
		s.logger.Warn("composition failed, using mechanical synthesis", zap.Error(err))
	}
	return mechanicalSynthesis(goal, agg)
}

// mechanicalSynthesis lists the top findings per focus with citation
// references. Plain but always available.
func mechanicalSynthesis(goal string, agg models.AggregateResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research summary: %s\n", goal)
	if agg.DegradedCount > 0 {
		fmt.Fprintf(&b, "Note: %d of %d research threads returned partial or no data.\n",
			agg.DegradedCount, len(agg.Groups))
	}
	for _, g := range agg.Groups {
		fmt.Fprintf(&b, "\n%s (confidence %.2f):\n", g.Focus, g.Confidence)
		if len(g.Findings) == 0 {
			b.WriteString("- No findings.\n")
			continue
		}
		for _, f := range g.Findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(agg.Citations) > 0 {
		b.WriteString("\nSources:\n")
		for _, c := range agg.Citations {
			fmt.Fprintf(&b, "[%s] %s %s\n", c.ID, c.Title, c.URL)
		}
	}
	return b.String()
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeFinding keys a finding for deduplication: case, surrounding
// punctuation and whitespace runs are ignored.
func normalizeFinding(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	f = strings.Trim(f, ".!?…")
	return whitespacePattern.ReplaceAllString(f, " ")
}
