// Package llm is the HTTP client for the language-model service behind the
// evaluator, query-suggestion, confidence-scoring and report-composition
// capabilities. The service returns near-JSON; every response goes through
// a repair-then-strict-decode adapter so unchecked fields never cross into
// the core.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"inquest/internal/models"
)

// ErrUnusable reports that the service could not make sense of the input
// at all; the gate maps it to REJECT.
var ErrUnusable = errors.New("llm: input not usable")

// Client talks to the LLM service. Each capability endpoint sits behind
// its own circuit breaker, so a failing composer cannot block the gate.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
		breakers: make(map[string]*breaker),
	}
}

func (c *Client) breakerFor(path string) *breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[path]
	if !ok {
		b = newBreaker(path, c.logger)
		c.breakers[path] = b
	}
	return b
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	return c.breakerFor(path).call(func() error {
		return c.doPost(ctx, path, in, out)
	})
}

func (c *Client) doPost(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call %s: status %d", path, resp.StatusCode)
	}

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	return decodeStrict(raw.String(), out)
}

// decodeStrict extracts the JSON object from a possibly noisy model
// response, repairs near-JSON, and decodes with unknown fields rejected.
func decodeStrict(s string, out interface{}) error {
	s = extractJSON(s)
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return fmt.Errorf("repair response JSON: %w", err)
	}
	dec = json.NewDecoder(strings.NewReader(repaired))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response JSON: %w", err)
	}
	return nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	a, b := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if a >= 0 && b > a {
		return s[a : b+1]
	}
	return s
}

// assessResponse is the wire schema of /assess. Strict: unknown fields are
// rejected by decodeStrict.
type assessResponse struct {
	Usable     bool     `json:"usable"`
	Confidence float64  `json:"confidence"`
	Dimensions struct {
		Subject     float64 `json:"subject"`
		Scope       float64 `json:"scope"`
		Goal        float64 `json:"goal"`
		Terminology float64 `json:"terminology"`
	} `json:"dimensions"`
	Missing []string `json:"missing"`
	Draft   struct {
		Goal          string   `json:"goal"`
		ResearchFocus []string `json:"research_focus"`
	} `json:"draft"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Reason   string   `json:"reason"`
}

// Assess calls the evaluator capability.
func (c *Client) Assess(ctx context.Context, req models.Request, draft models.TaskDraft, background []models.Source) (*models.Assessment, error) {
	in := map[string]interface{}{
		"text":    req.Text,
		"history": req.History,
		"draft":   draft,
	}
	if len(background) > 0 {
		in["background"] = background
	}
	var out assessResponse
	if err := c.post(ctx, "/agent/assess", in, &out); err != nil {
		return nil, err
	}
	if !out.Usable {
		return nil, fmt.Errorf("%w: %s", ErrUnusable, out.Reason)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("evaluator returned confidence %.3f outside [0,1]", out.Confidence)
	}

	a := &models.Assessment{
		Confidence: out.Confidence,
		Dimensions: models.DimensionScores{
			Subject:     out.Dimensions.Subject,
			Scope:       out.Dimensions.Scope,
			Goal:        out.Dimensions.Goal,
			Terminology: out.Dimensions.Terminology,
		},
		Draft: models.TaskDraft{
			Goal:          out.Draft.Goal,
			ResearchFocus: out.Draft.ResearchFocus,
		},
		Question: out.Question,
		Options:  out.Options,
		Reason:   out.Reason,
	}
	for _, m := range out.Missing {
		switch d := models.Dimension(m); d {
		case models.DimensionSubject, models.DimensionScope, models.DimensionGoal, models.DimensionTerminology:
			a.Missing = append(a.Missing, d)
		default:
			return nil, fmt.Errorf("evaluator returned unknown dimension %q", m)
		}
	}
	return a, nil
}

type queriesResponse struct {
	Queries []string `json:"queries"`
}

// SuggestQueries asks the service for 1-2 search queries for a focus.
func (c *Client) SuggestQueries(ctx context.Context, goal, focus string) ([]string, error) {
	in := map[string]string{"goal": goal, "focus": focus}
	var out queriesResponse
	if err := c.post(ctx, "/agent/queries", in, &out); err != nil {
		return nil, err
	}
	return out.Queries, nil
}

type scoreResponse struct {
	Confidence float64 `json:"confidence"`
}

// Score returns a model-based confidence for a set of findings.
func (c *Client) Score(ctx context.Context, focus string, findings []string, sources []models.Source) (float64, error) {
	in := map[string]interface{}{
		"focus":    focus,
		"findings": findings,
		"sources":  sources,
	}
	var out scoreResponse
	if err := c.post(ctx, "/agent/score", in, &out); err != nil {
		return 0, err
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return 0, fmt.Errorf("scorer returned confidence %.3f outside [0,1]", out.Confidence)
	}
	return out.Confidence, nil
}

type composeResponse struct {
	Synthesis string `json:"synthesis"`
}

// Compose asks the service to write the synthesis text for an aggregate.
func (c *Client) Compose(ctx context.Context, goal string, groups []models.FocusGroup, citations []models.Citation) (string, error) {
	in := map[string]interface{}{
		"goal":      goal,
		"groups":    groups,
		"citations": citations,
	}
	var out composeResponse
	if err := c.post(ctx, "/agent/compose", in, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Synthesis) == "" {
		return "", errors.New("composer returned empty synthesis")
	}
	return out.Synthesis, nil
}
