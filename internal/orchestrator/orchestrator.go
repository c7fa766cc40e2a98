// Package orchestrator drives a conversation through the research state
// machine: gate the request, clarify or confirm as needed, decompose the
// accepted draft, execute subtasks, synthesize the aggregate. All
// cross-turn state lives in the injected session store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"inquest/internal/metrics"
	"inquest/internal/models"
	"inquest/internal/session"
	"inquest/internal/tracing"
)

// Conversation states persisted in the session between turns.
const (
	StateNew        = "NEW"
	StateClarifying = "CLARIFYING"
	StateConfirming = "CONFIRMING"
	StateDone       = "DONE"
)

// Gater classifies a request. Implemented by *gate.Gate.
type Gater interface {
	Evaluate(ctx context.Context, req models.Request, draft models.TaskDraft, satisfied []models.Dimension) (models.GateDecision, error)
}

// Planner decomposes an accepted draft. Implemented by *planner.Decomposer.
type Planner interface {
	Decompose(ctx context.Context, draft models.TaskDraft) []models.Subtask
}

// Executor runs the plan. Implemented by *pool.Pool.
type Executor interface {
	ExecuteAll(ctx context.Context, subtasks []models.Subtask) []models.SubtaskResult
}

// Synthesizer merges the results. Implemented by *synthesis.Synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, goal string, results []models.SubtaskResult) models.AggregateResult
}

// ResponseKind tells the caller what a turn produced.
type ResponseKind string

const (
	KindQuestion ResponseKind = "question" // answer the clarification
	KindConfirm  ResponseKind = "confirm"  // approve or correct the draft
	KindRejected ResponseKind = "rejected"
	KindResult   ResponseKind = "result"
	KindError    ResponseKind = "error"
)

// Response is the structured outcome of one conversation turn.
type Response struct {
	Kind          ResponseKind            `json:"kind"`
	Message       string                  `json:"message,omitempty"`
	Clarification *models.Clarification   `json:"clarification,omitempty"`
	Result        *models.AggregateResult `json:"result,omitempty"`
}

// Orchestrator owns the per-conversation state machine.
type Orchestrator struct {
	gate   Gater
	plan   Planner
	exec   Executor
	synth  Synthesizer
	store  session.Store
	logger *zap.Logger
}

// New wires the pipeline stages together.
func New(g Gater, p Planner, e Executor, s Synthesizer, store session.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{gate: g, plan: p, exec: e, synth: s, store: store, logger: logger}
}

// HandleTurn processes one user input for the given conversation and
// returns what to show the caller. Failures inside the research arc come
// back as structured responses, never as panics.
func (o *Orchestrator) HandleTurn(ctx context.Context, conversationID, input string) (Response, error) {
	sess, err := o.loadOrCreate(ctx, conversationID)
	if err != nil {
		return Response{}, err
	}
	sess.AddExchange(models.RoleUser, input)

	var resp Response
	switch sess.State {
	case StateClarifying:
		resp, err = o.onClarificationAnswer(ctx, sess, input)
	case StateConfirming:
		resp, err = o.onConfirmationAnswer(ctx, sess, input)
	default:
		resp, err = o.onNewRequest(ctx, sess, input)
	}
	if err != nil {
		return Response{}, err
	}

	sess.AddExchange(models.RoleAssistant, resp.assistantText())
	if err := o.store.Put(ctx, sess); err != nil {
		// The turn already happened; a failed save costs continuity, not
		// correctness of this response.
		o.logger.Error("session save failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return resp, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, id string) (*session.Session, error) {
	sess, err := o.store.Get(ctx, id)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		return o.store.Create(ctx, id)
	default:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
}

// onNewRequest gates fresh input (or a fresh goal after a finished run).
func (o *Orchestrator) onNewRequest(ctx context.Context, sess *session.Session, input string) (Response, error) {
	if sess.State == StateDone {
		// A finished conversation starts over with an empty draft.
		sess.Draft = models.TaskDraft{}
		sess.Satisfied = nil
	}
	req := models.Request{Text: input, History: historyBefore(sess)}
	return o.applyGate(ctx, sess, req)
}

// onClarificationAnswer folds the caller's answer into the draft and
// re-gates. A numeric answer picks a pending option by 1-based index; the
// reserved free-text option and any non-numeric input pass through as is.
func (o *Orchestrator) onClarificationAnswer(ctx context.Context, sess *session.Session, input string) (Response, error) {
	pending := sess.Pending
	sess.Pending = nil
	answer := strings.TrimSpace(input)

	if pending != nil {
		answer = resolveOption(pending, answer)
		if pending.Dimension != "" {
			sess.MarkSatisfied(pending.Dimension)
			supp := map[string]string{string(pending.Dimension): answer}
			sess.Draft = sess.Draft.Merge(models.TaskDraft{Supplements: supp})
		}
	}

	req := models.Request{Text: answer, History: historyBefore(sess)}
	return o.applyGate(ctx, sess, req)
}

// onConfirmationAnswer either launches research on approval or treats the
// reply as a correction and re-gates it.
func (o *Orchestrator) onConfirmationAnswer(ctx context.Context, sess *session.Session, input string) (Response, error) {
	if isAffirmative(input) {
		return o.research(ctx, sess)
	}
	req := models.Request{Text: input, History: historyBefore(sess)}
	return o.applyGate(ctx, sess, req)
}

// applyGate runs the gate and routes its decision.
func (o *Orchestrator) applyGate(ctx context.Context, sess *session.Session, req models.Request) (Response, error) {
	gateCtx, span := tracing.StartSpan(ctx, "gate.evaluate",
		attribute.String("conversation_id", sess.ID))
	dec, err := o.gate.Evaluate(gateCtx, req, sess.Draft, sess.Satisfied)
	span.End()
	if err != nil {
		sess.State = StateNew
		return Response{
			Kind:    KindError,
			Message: "The request could not be evaluated right now. Please try again.",
		}, nil
	}

	sess.Draft = dec.Draft
	switch dec.Action {
	case models.ActionReject:
		sess.State = StateNew
		msg := dec.Reason
		if msg == "" {
			msg = "This request cannot be researched as stated."
		}
		return Response{Kind: KindRejected, Message: msg}, nil

	case models.ActionNeedClarification:
		sess.State = StateClarifying
		sess.Pending = dec.Clarification
		return Response{Kind: KindQuestion, Clarification: dec.Clarification}, nil

	case models.ActionConfirm:
		sess.State = StateConfirming
		sess.Pending = nil
		return Response{Kind: KindConfirm, Message: confirmationPrompt(sess.Draft)}, nil

	default: // PROCEED
		return o.research(ctx, sess)
	}
}

// research runs the full arc for the accepted draft: decompose, execute,
// synthesize. It always produces a response: a panic anywhere in the arc
// is caught here and converted into a structured failure.
func (o *Orchestrator) research(ctx context.Context, sess *session.Session) (resp Response, err error) {
	runID := uuid.New().String()
	start := time.Now()
	metrics.RunsStarted.Inc()

	defer func() {
		if r := recover(); r != nil {
			metrics.RunsCompleted.WithLabelValues("failed").Inc()
			o.logger.Error("research run panicked",
				zap.String("run_id", runID),
				zap.Any("panic", r))
			sess.State = StateNew
			sess.Pending = nil
			resp = Response{
				Kind:    KindError,
				Message: "The research run failed unexpectedly. Please try again.",
			}
			err = nil
		}
	}()

	runCtx, runSpan := tracing.StartSpan(ctx, "research.run",
		attribute.String("run_id", runID),
		attribute.String("conversation_id", sess.ID))
	defer runSpan.End()

	o.logger.Info("research run starting",
		zap.String("run_id", runID),
		zap.String("goal", sess.Draft.Goal))

	planCtx, planSpan := tracing.StartSpan(runCtx, "research.decompose")
	subtasks := o.plan.Decompose(planCtx, sess.Draft)
	planSpan.End()

	execCtx, execSpan := tracing.StartSpan(runCtx, "research.execute",
		attribute.Int("subtasks", len(subtasks)))
	results := o.exec.ExecuteAll(execCtx, subtasks)
	execSpan.End()

	synthCtx, synthSpan := tracing.StartSpan(runCtx, "research.synthesize")
	agg := o.synth.Synthesize(synthCtx, sess.Draft.Goal, results)
	synthSpan.End()

	outcome := "completed"
	if agg.DegradedCount == len(results) && len(results) > 0 {
		outcome = "degraded"
	}
	metrics.RunsCompleted.WithLabelValues(outcome).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())

	sess.State = StateDone
	sess.Pending = nil
	o.logger.Info("research run finished",
		zap.String("run_id", runID),
		zap.String("outcome", outcome),
		zap.Float64("overall_confidence", agg.OverallConfidence),
		zap.Duration("elapsed", time.Since(start)))
	return Response{Kind: KindResult, Result: &agg}, nil
}

// historyBefore is the conversation history excluding the exchange just
// appended for the current input.
func historyBefore(sess *session.Session) []models.Exchange {
	if len(sess.History) == 0 {
		return nil
	}
	return sess.History[:len(sess.History)-1]
}

// resolveOption maps a 1-based numeric answer to the option text. The
// last option is the free-text escape, so picking it (or answering with
// anything non-numeric) keeps the raw answer.
func resolveOption(c *models.Clarification, answer string) string {
	if len(c.Options) == 0 {
		return answer
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(c.Options) {
		return answer
	}
	if n == len(c.Options) && strings.HasPrefix(c.Options[n-1], "Other") {
		return answer
	}
	return c.Options[n-1]
}

var affirmatives = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
	"ok": true, "okay": true, "confirm": true, "confirmed": true,
	"proceed": true, "go": true, "go ahead": true, "correct": true,
	"that's right": true, "right": true, "sounds good": true,
}

func isAffirmative(input string) bool {
	return affirmatives[strings.ToLower(strings.TrimSpace(strings.TrimRight(input, ".!")))]
}

// confirmationPrompt restates the draft so the caller can approve it.
func confirmationPrompt(d models.TaskDraft) string {
	var b strings.Builder
	b.WriteString("I understand you want research on: ")
	b.WriteString(d.Goal)
	if len(d.ResearchFocus) > 0 {
		b.WriteString("\nFocus areas:\n")
		for _, f := range d.ResearchFocus {
			b.WriteString("- " + f + "\n")
		}
	}
	b.WriteString("Shall I proceed?")
	return b.String()
}

// assistantText is what goes into the session history for this response.
func (r Response) assistantText() string {
	switch r.Kind {
	case KindQuestion:
		if r.Clarification != nil {
			return r.Clarification.Question
		}
	case KindResult:
		if r.Result != nil {
			return r.Result.Synthesis
		}
	}
	return r.Message
}
