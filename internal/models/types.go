// Package models holds the core data types shared by the research
// orchestration pipeline. Values of these types are write-once: each is
// created by exactly one component and never mutated after it crosses a
// component boundary.
package models

import "time"

// Role identifies the author of a conversation exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Exchange is one prior message in the conversation.
type Exchange struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the immutable input to a gate evaluation: the current user
// text plus the ordered prior exchanges.
type Request struct {
	Text    string     `json:"text"`
	History []Exchange `json:"history,omitempty"`
}

// TaskDraft is the evolving description of what the user wants researched.
// It is owned by the orchestrator and grows across clarification turns;
// workers never touch it.
type TaskDraft struct {
	Goal          string            `json:"goal"`
	ResearchFocus []string          `json:"research_focus,omitempty"`
	// Supplements holds free-form answers the user supplied during
	// clarification, keyed by the dimension they answered.
	Supplements map[string]string `json:"supplements,omitempty"`
}

// Merge returns a copy of the draft with non-empty fields of other laid
// over it. Focus lists are appended (deduplicated), supplements are merged
// key-wise with other winning.
func (d TaskDraft) Merge(other TaskDraft) TaskDraft {
	out := d
	if other.Goal != "" {
		out.Goal = other.Goal
	}
	if len(other.ResearchFocus) > 0 {
		seen := make(map[string]bool, len(d.ResearchFocus))
		out.ResearchFocus = append([]string(nil), d.ResearchFocus...)
		for _, f := range d.ResearchFocus {
			seen[f] = true
		}
		for _, f := range other.ResearchFocus {
			if f != "" && !seen[f] {
				out.ResearchFocus = append(out.ResearchFocus, f)
				seen[f] = true
			}
		}
	}
	if len(other.Supplements) > 0 {
		merged := make(map[string]string, len(d.Supplements)+len(other.Supplements))
		for k, v := range d.Supplements {
			merged[k] = v
		}
		for k, v := range other.Supplements {
			merged[k] = v
		}
		out.Supplements = merged
	}
	return out
}

// IsEmpty reports whether the draft carries no information at all.
func (d TaskDraft) IsEmpty() bool {
	return d.Goal == "" && len(d.ResearchFocus) == 0 && len(d.Supplements) == 0
}

// Action is the gate's classification of a request.
type Action string

const (
	ActionProceed           Action = "PROCEED"
	ActionNeedClarification Action = "NEED_CLARIFICATION"
	ActionConfirm           Action = "CONFIRM"
	ActionReject            Action = "REJECT"
)

// Dimension names one axis of the evaluator's understanding of a request.
type Dimension string

const (
	DimensionSubject     Dimension = "subject"     // what is being researched
	DimensionScope       Dimension = "scope"       // how far the research reaches
	DimensionGoal        Dimension = "goal"        // what the caller wants out of it
	DimensionTerminology Dimension = "terminology" // whether domain terms are understood
)

// RequiredDimensions are the dimensions whose absence forces clarification
// in the mid-confidence band.
var RequiredDimensions = []Dimension{DimensionSubject, DimensionGoal}

// DimensionScores carries the evaluator's per-dimension confidence.
type DimensionScores struct {
	Subject     float64 `json:"subject"`
	Scope       float64 `json:"scope"`
	Goal        float64 `json:"goal"`
	Terminology float64 `json:"terminology"`
}

// Clarification is a single focused question the caller must answer before
// research can start. Options is capped at MaxClarificationOptions with the
// last slot reserved for a free-text "other".
type Clarification struct {
	Question  string    `json:"question"`
	Options   []string  `json:"options,omitempty"`
	Dimension Dimension `json:"dimension,omitempty"`
	// OpenEnded marks a single free-text question, used when the request
	// references information only the caller possesses.
	OpenEnded bool `json:"open_ended,omitempty"`
}

// MaxClarificationOptions bounds the option list of a clarification
// question, including the reserved free-text slot.
const MaxClarificationOptions = 5

// GateDecision is the outcome of one gate evaluation. Action is a pure
// function of Confidence and the missing-dimension flags; Confidence is
// populated for every action, including REJECT.
type GateDecision struct {
	Action        Action          `json:"action"`
	Confidence    float64         `json:"confidence"`
	Dimensions    DimensionScores `json:"dimensions"`
	Missing       []Dimension     `json:"missing,omitempty"`
	Draft         TaskDraft       `json:"draft"`
	Clarification *Clarification  `json:"clarification,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// Assessment is the raw output of the external evaluator capability,
// before the gate's deterministic policy is applied.
type Assessment struct {
	Confidence float64         `json:"confidence"`
	Dimensions DimensionScores `json:"dimensions"`
	Missing    []Dimension     `json:"missing,omitempty"`
	Draft      TaskDraft       `json:"draft"`
	Question   string          `json:"question,omitempty"`
	Options    []string        `json:"options,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Subtask is one independently researchable unit of a decomposed goal.
// Immutable after creation.
type Subtask struct {
	ID             int      `json:"id"`
	Focus          string   `json:"focus"`
	Queries        []string `json:"queries"`
	SuggestedDepth int      `json:"suggested_depth"`
}

// SubtaskStatus is the terminal state of a subtask execution.
type SubtaskStatus string

const (
	StatusCompleted SubtaskStatus = "COMPLETED"
	StatusTimedOut  SubtaskStatus = "TIMED_OUT"
	StatusSoftExit  SubtaskStatus = "SOFT_EXITED"
	StatusFailed    SubtaskStatus = "FAILED"
)

// SourceType distinguishes how a source's content was obtained.
type SourceType string

const (
	SourceSearchResult SourceType = "search_result"
	SourceDeepContent  SourceType = "deep_content"
)

// Source is one evidence entry backing a finding.
type Source struct {
	URL     string     `json:"url"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet,omitempty"`
	Type    SourceType `json:"type,omitempty"`
	// Published is the evidence date when the search backend reports one;
	// zero otherwise.
	Published time.Time `json:"published,omitempty"`
}

// SubtaskResult is the single terminal artifact a worker produces for a
// subtask. Exactly one exists per subtask per run, even on timeout.
type SubtaskResult struct {
	SubtaskID int           `json:"subtask_id"`
	Focus     string        `json:"focus"`
	Status    SubtaskStatus `json:"status"`
	Findings  []string      `json:"findings,omitempty"`
	Sources   []Source      `json:"sources,omitempty"`

	RuleConfidence  float64 `json:"rule_confidence"`
	ModelConfidence float64 `json:"model_confidence,omitempty"`
	ModelScored     bool    `json:"model_scored,omitempty"`
	FinalConfidence float64 `json:"final_confidence"`

	// Fetch accounting feeds the zero-success confidence cap.
	FetchAttempts  int `json:"fetch_attempts"`
	FetchSuccesses int `json:"fetch_successes"`

	Elapsed time.Duration `json:"elapsed"`
}

// Completed reports whether the subtask ran to normal completion.
func (r SubtaskResult) Completed() bool { return r.Status == StatusCompleted }

// FocusGroup is the per-focus slice of an aggregate result.
type FocusGroup struct {
	Focus      string   `json:"focus"`
	Findings   []string `json:"findings,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Citation is one deduplicated evidence entry of an aggregate result,
// addressable by a stable short ID such as "S3".
type Citation struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// AggregateResult is the terminal artifact of a research run.
type AggregateResult struct {
	Goal              string       `json:"goal"`
	Groups            []FocusGroup `json:"groups,omitempty"`
	Citations         []Citation   `json:"citations,omitempty"`
	Synthesis         string       `json:"synthesis"`
	OverallConfidence float64      `json:"overall_confidence"`
	// DegradedCount is the number of subtasks that did not complete
	// normally.
	DegradedCount int `json:"degraded_count"`
}
