package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inquest/internal/config"
	"inquest/internal/llm"
	"inquest/internal/models"
	"inquest/internal/retriever"
)

type stubEvaluator struct {
	assessment *models.Assessment
	err        error
	lastReq    models.Request
	background []models.Source
}

func (s *stubEvaluator) Assess(ctx context.Context, req models.Request, draft models.TaskDraft, background []models.Source) (*models.Assessment, error) {
	s.lastReq = req
	s.background = background
	if s.err != nil {
		return nil, s.err
	}
	return s.assessment, nil
}

type stubSearcher struct {
	results []retriever.SearchResult
	err     error
	queries []string
}

func (s *stubSearcher) Search(ctx context.Context, query string, maxResults int) ([]retriever.SearchResult, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

func defaultGateConfig() config.GateConfig {
	return config.GateConfig{
		ClarifyThreshold: 0.60,
		ConfirmThreshold: 0.70,
		ProceedThreshold: 0.85,
	}
}

func TestEvaluateThresholdBands(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		missing    []models.Dimension
		want       models.Action
	}{
		{"far below clarify", 0.20, nil, models.ActionNeedClarification},
		{"just below clarify", 0.59, nil, models.ActionNeedClarification},
		{"mid band missing subject", 0.65, []models.Dimension{models.DimensionSubject}, models.ActionNeedClarification},
		{"mid band missing goal", 0.65, []models.Dimension{models.DimensionGoal}, models.ActionNeedClarification},
		{"mid band missing only scope", 0.65, []models.Dimension{models.DimensionScope}, models.ActionConfirm},
		{"mid band nothing missing", 0.65, nil, models.ActionConfirm},
		{"confirm band", 0.75, nil, models.ActionConfirm},
		{"confirm band missing required", 0.75, []models.Dimension{models.DimensionSubject}, models.ActionConfirm},
		{"at proceed threshold", 0.85, nil, models.ActionProceed},
		{"high confidence", 0.95, nil, models.ActionProceed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &stubEvaluator{assessment: &models.Assessment{
				Confidence: tt.confidence,
				Missing:    tt.missing,
				Question:   "what exactly?",
			}}
			g := New(ev, nil, defaultGateConfig(), zap.NewNop())

			dec, err := g.Evaluate(context.Background(), models.Request{Text: "research something"}, models.TaskDraft{}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dec.Action)
			assert.Equal(t, tt.confidence, dec.Confidence)
		})
	}
}

func TestEvaluateSameInputSameDecision(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{Confidence: 0.65, Missing: []models.Dimension{models.DimensionGoal}}}
	g := New(ev, nil, defaultGateConfig(), zap.NewNop())

	req := models.Request{Text: "tell me about X"}
	first, err := g.Evaluate(context.Background(), req, models.TaskDraft{}, nil)
	require.NoError(t, err)
	second, err := g.Evaluate(context.Background(), req, models.TaskDraft{}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestEvaluateUnusableInputRejects(t *testing.T) {
	ev := &stubEvaluator{err: llm.ErrUnusable}
	g := New(ev, nil, defaultGateConfig(), zap.NewNop())

	dec, err := g.Evaluate(context.Background(), models.Request{Text: "%%%%"}, models.TaskDraft{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionReject, dec.Action)
	assert.NotEmpty(t, dec.Reason)
}

func TestEvaluateTransportErrorPropagates(t *testing.T) {
	ev := &stubEvaluator{err: errors.New("connection refused")}
	g := New(ev, nil, defaultGateConfig(), zap.NewNop())

	_, err := g.Evaluate(context.Background(), models.Request{Text: "anything"}, models.TaskDraft{}, nil)
	require.Error(t, err)
}

func TestEvaluateOptionCap(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{
		Confidence: 0.30,
		Missing:    []models.Dimension{models.DimensionScope},
		Question:   "which area?",
		Options:    []string{"a", "b", "c", "d", "e", "f", "g"},
	}}
	g := New(ev, nil, defaultGateConfig(), zap.NewNop())

	dec, err := g.Evaluate(context.Background(), models.Request{Text: "broad topic"}, models.TaskDraft{}, nil)
	require.NoError(t, err)
	require.NotNil(t, dec.Clarification)
	require.Len(t, dec.Clarification.Options, models.MaxClarificationOptions)
	assert.Equal(t, "Other (please specify)", dec.Clarification.Options[models.MaxClarificationOptions-1])
	assert.Equal(t, []string{"a", "b", "c", "d"}, dec.Clarification.Options[:4])
}

func TestEvaluatePrivateInfoForcesOpenEnded(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{
		Confidence: 0.30,
		Missing:    []models.Dimension{models.DimensionSubject},
		Question:   "what does your product do?",
		Options:    []string{"a", "b", "c"},
	}}
	g := New(ev, nil, defaultGateConfig(), zap.NewNop())

	dec, err := g.Evaluate(context.Background(),
		models.Request{Text: "research competitors for my company"}, models.TaskDraft{}, nil)
	require.NoError(t, err)
	require.NotNil(t, dec.Clarification)
	assert.True(t, dec.Clarification.OpenEnded)
	assert.Empty(t, dec.Clarification.Options)
}

func TestEvaluateSatisfiedDimensionsNotReasked(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{
		Confidence: 0.65,
		Missing:    []models.Dimension{models.DimensionGoal, models.DimensionScope},
	}}
	g := New(ev, nil, defaultGateConfig(), zap.NewNop())

	dec, err := g.Evaluate(context.Background(), models.Request{Text: "more detail"},
		models.TaskDraft{}, []models.Dimension{models.DimensionGoal})
	require.NoError(t, err)
	// Goal was answered earlier, so only scope remains and the mid band
	// confirms instead of clarifying.
	assert.Equal(t, []models.Dimension{models.DimensionScope}, dec.Missing)
	assert.Equal(t, models.ActionConfirm, dec.Action)
}

func TestEvaluateMergesDraft(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{
		Confidence: 0.90,
		Draft: models.TaskDraft{
			Goal:          "compare treatments",
			ResearchFocus: []string{"efficacy", "cost"},
		},
	}}
	g := New(ev, nil, defaultGateConfig(), zap.NewNop())

	prior := models.TaskDraft{ResearchFocus: []string{"efficacy"}}
	dec, err := g.Evaluate(context.Background(), models.Request{Text: "compare treatments"}, prior, nil)
	require.NoError(t, err)
	assert.Equal(t, "compare treatments", dec.Draft.Goal)
	assert.Equal(t, []string{"efficacy", "cost"}, dec.Draft.ResearchFocus)
}

func TestPreSearchFeedsEvaluator(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{Confidence: 0.90}}
	search := &stubSearcher{results: []retriever.SearchResult{
		{Title: "CRISPR overview", URL: "https://example.org/crispr", Snippet: "gene editing"},
	}}
	cfg := defaultGateConfig()
	cfg.PreSearch = true
	cfg.PreSearchResults = 3
	g := New(ev, search, cfg, zap.NewNop())

	_, err := g.Evaluate(context.Background(), models.Request{Text: "what is CRISPR used for"}, models.TaskDraft{}, nil)
	require.NoError(t, err)
	require.Len(t, search.queries, 1)
	require.Len(t, ev.background, 1)
	assert.Equal(t, "https://example.org/crispr", ev.background[0].URL)
}

func TestPreSearchFailureIsNotFatal(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{Confidence: 0.90}}
	search := &stubSearcher{err: errors.New("backend down")}
	cfg := defaultGateConfig()
	cfg.PreSearch = true
	g := New(ev, search, cfg, zap.NewNop())

	dec, err := g.Evaluate(context.Background(), models.Request{Text: "explain CRISPR"}, models.TaskDraft{}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionProceed, dec.Action)
	assert.Empty(t, ev.background)
}

func TestPreSearchSkippedWithDraft(t *testing.T) {
	ev := &stubEvaluator{assessment: &models.Assessment{Confidence: 0.90}}
	search := &stubSearcher{}
	cfg := defaultGateConfig()
	cfg.PreSearch = true
	g := New(ev, search, cfg, zap.NewNop())

	draft := models.TaskDraft{Goal: "already known"}
	_, err := g.Evaluate(context.Background(), models.Request{Text: "more about CRISPR"}, draft, nil)
	require.NoError(t, err)
	assert.Empty(t, search.queries)
}
