// Package engine is the deterministic orchestrator: it maintains the
// per-session call stack, delegates per-turn reasoning to the step
// executor, translates the LLM's decision into a state-machine transition
// (the sole anti-corruption boundary between LLM vocabulary and engine
// vocabulary), mutates session state, and produces the outgoing reply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/executor"
	"github.com/stepflowhq/stepflow/pkg/logger"
	"github.com/stepflowhq/stepflow/pkg/narrator"
	"github.com/stepflowhq/stepflow/pkg/observability"
	"github.com/stepflowhq/stepflow/pkg/prompt"
	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

// Sentinel errors for the turn-level failures the engine itself detects.
// Storage and session-not-found errors are raised by the chat service
// layer, not the engine, since the engine receives an already-loaded
// session.
var (
	// ErrInvalidState is returned when handleMessage is invoked on a
	// session whose call stack is empty.
	ErrInvalidState = errors.New("engine: session has no active workflow")
	// ErrWorkflowNotFound is returned when a referenced sub-workflow is
	// unknown to the WorkflowStore.
	ErrWorkflowNotFound = errors.New("engine: workflow not found")
	// ErrMalformedWorkflow is returned when an edge resolves to a
	// non-existent step. Fatal: the turn is refused and nothing persists.
	ErrMalformedWorkflow = errors.New("engine: malformed workflow")
)

// Engine orchestrates one turn at a time. Stateless itself — all mutable
// state lives in the session.State passed to HandleMessage.
type Engine struct {
	store    workflow.Store
	executor *executor.Executor
	narrator *narrator.Narrator
	metrics  *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches a Prometheus metrics recorder. A nil Metrics (the
// default) makes every Record call a no-op.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine bound to a WorkflowStore and LLMProvider-backed
// executor/narrator.
func New(store workflow.Store, exec *executor.Executor, narr *narrator.Narrator, opts ...Option) *Engine {
	e := &Engine{store: store, executor: exec, narrator: narr}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage runs exactly one turn of the per-turn algorithm from
// spec.md section 4.4 against state, mutating it in place. On any returned
// error state must be discarded by the caller rather than persisted.
// Failures found while loading the active frame, and a MalformedWorkflow
// edge found by advanceOrPop, return before state is mutated; a missing
// workflow or step found while looking up the new active step after a
// transition returns after the stack has already been changed.
func (e *Engine) HandleMessage(ctx context.Context, state *session.State, userInput string) (decision.Decision, error) {
	start := time.Now()

	frame := state.ActiveFrame()
	if frame == nil {
		return decision.Decision{}, ErrInvalidState
	}

	wf, err := e.store.Get(frame.WorkflowName)
	if err != nil {
		return decision.Decision{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, frame.WorkflowName)
	}
	currentStep, ok := wf.Step(frame.CurrentStepID)
	if !ok {
		return decision.Decision{}, fmt.Errorf("%w: step %s not found in workflow %s", ErrMalformedWorkflow, frame.CurrentStepID, wf.Name)
	}

	d := e.executor.RunTurn(ctx, currentStep, *frame, userInput, state.History)

	transition, meta, err := e.applyDecision(state, frame, wf, currentStep, d)
	if err != nil {
		return decision.Decision{}, err
	}
	e.metrics.RecordTurn(string(transition), time.Since(start))

	if d.Status == decision.StatusGiveUp {
		state.Escalated = true
		e.metrics.RecordEscalation()
	}

	// Clear the mailbox of whichever frame is now on top, per spec.md
	// section 4.4 step 4 — "clear the mailbox of the now-active frame".
	if active := state.ActiveFrame(); active != nil {
		active.PendingChildResult = nil
	}

	reply := d
	switch transition {
	case decision.TransitionHold:
		// reply unchanged
	default:
		if newActive := state.ActiveFrame(); newActive != nil {
			newWf, err := e.store.Get(newActive.WorkflowName)
			if err != nil {
				return decision.Decision{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, newActive.WorkflowName)
			}
			newStep, ok := newWf.Step(newActive.CurrentStepID)
			if !ok {
				return decision.Decision{}, fmt.Errorf("%w: step %s not found in workflow %s", ErrMalformedWorkflow, newActive.CurrentStepID, newWf.Name)
			}
			reply = e.narrator.IntroduceStep(ctx, currentStep, newStep, meta, state.History, userInput)
		}
		// empty stack after POP: reply stays as the decision from the
		// terminal step, per spec.md section 4.4 step 5.
	}

	state.AppendTurn(userInput, reply.ReplyToUser)

	return reply, nil
}

// applyDecision is the anti-corruption boundary: it mutates state
// according to decision.Status and the current step's type, and returns
// the corresponding engine-internal Transition. This is the only place in
// the codebase permitted to branch on both vocabularies at once.
func (e *Engine) applyDecision(state *session.State, frame *session.Frame, wf *workflow.Workflow, currentStep workflow.Step, d decision.Decision) (decision.Transition, prompt.TransitionMeta, error) {
	switch d.Status {
	case decision.StatusInProgress, decision.StatusGiveUp:
		return decision.TransitionHold, prompt.TransitionMeta{}, nil

	case decision.StatusComplete:
		return e.advanceOrPop(state, frame, wf, currentStep, d)

	case decision.StatusCallWorkflow:
		log := logger.ForSession(state.SessionID)
		if d.ResultValue == nil || *d.ResultValue == "" {
			log.Warn("CALL_WORKFLOW decision missing result_value", "step", currentStep.ID)
			return decision.TransitionHold, prompt.TransitionMeta{}, nil
		}
		target := *d.ResultValue
		targetWf, err := e.store.Get(target)
		if err != nil {
			log.Warn("CALL_WORKFLOW target not found", "target", target)
			return decision.TransitionHold, prompt.TransitionMeta{}, nil
		}
		state.PushFrame(targetWf.Name, targetWf.StartStep)

		var link *workflow.WorkflowLink
		for i := range currentStep.SuggestedLinks {
			if currentStep.SuggestedLinks[i].TargetWorkflowID == target {
				link = &currentStep.SuggestedLinks[i]
				break
			}
		}
		return decision.TransitionPush, prompt.TransitionMeta{
			TransitionType: decision.TransitionPush,
			Reasoning:      d.Reasoning,
			WorkflowLink:   link,
		}, nil

	default:
		logger.GetLogger().Warn("unknown decision status received", "status", d.Status)
		return decision.TransitionHold, prompt.TransitionMeta{}, nil
	}
}

// advanceOrPop resolves the next step for a COMPLETE decision and either
// advances the active frame onto it, or — if the resolved step is an END,
// or the current step is itself an END (a degenerate but structurally
// possible one-step workflow) — pops the frame and delivers a
// WorkflowResult into the parent's mailbox.
func (e *Engine) advanceOrPop(state *session.State, frame *session.Frame, wf *workflow.Workflow, currentStep workflow.Step, d decision.Decision) (decision.Transition, prompt.TransitionMeta, error) {
	if currentStep.Type == workflow.StepEnd {
		result := e.buildResultFromReply(wf, currentStep, d)
		state.PopFrame(result)
		return decision.TransitionPop, prompt.TransitionMeta{TransitionType: decision.TransitionPop, Reasoning: d.Reasoning, ChildResult: result}, nil
	}

	nextStepID := currentStep.NextStep
	if currentStep.Type == workflow.StepAskChoice && len(currentStep.Options) > 0 {
		resolved := currentStep.NextStep
		for _, opt := range currentStep.Options {
			if d.ResultValue != nil && opt.ID == *d.ResultValue {
				resolved = opt.NextStepID
				break
			}
		}
		nextStepID = resolved
	}

	nextStep, ok := wf.Step(nextStepID)
	if !ok {
		return decision.TransitionHold, prompt.TransitionMeta{}, fmt.Errorf("%w: step %s next_step %q not found", ErrMalformedWorkflow, currentStep.ID, nextStepID)
	}

	// An ADVANCE whose resolved next step is itself END is treated as a
	// POP: the terminal node never receives a turn of its own, so the
	// closing decision carries no reply about it — the mailbox summary
	// comes from the END step's own goal text instead.
	if nextStep.Type == workflow.StepEnd {
		result := e.buildResultFromGoal(wf, nextStep, d)
		state.PopFrame(result)
		return decision.TransitionPop, prompt.TransitionMeta{TransitionType: decision.TransitionPop, Reasoning: d.Reasoning, ChildResult: result}, nil
	}

	frame.CurrentStepID = nextStepID
	return decision.TransitionAdvance, prompt.TransitionMeta{TransitionType: decision.TransitionAdvance, Reasoning: d.Reasoning}, nil
}

// buildResultFromReply constructs the WorkflowResult deposited into a
// parent's mailbox when the step the turn was run against was itself an
// END (spec.md section 4.4's direct-END-as-current-step COMPLETE case).
// The summary is the closing decision's own reply to the user.
func (e *Engine) buildResultFromReply(wf *workflow.Workflow, endStep workflow.Step, d decision.Decision) *session.WorkflowResult {
	return e.newResult(wf, endStep, d.ReplyToUser)
}

// buildResultFromGoal constructs the WorkflowResult deposited into a
// parent's mailbox when an ADVANCE resolves to an END step that never
// itself ran a turn (the "ADVANCE into END is POP" edge policy). The
// decision's reply describes the step that led here, not the workflow's
// outcome, so the summary is the END step's own goal text instead.
func (e *Engine) buildResultFromGoal(wf *workflow.Workflow, endStep workflow.Step, d decision.Decision) *session.WorkflowResult {
	return e.newResult(wf, endStep, endStep.Goal)
}

// newResult is the shared WorkflowResult constructor; status follows
// endStep.Outcome when the workflow author declared one, defaulting to
// SUCCESS.
func (e *Engine) newResult(wf *workflow.Workflow, endStep workflow.Step, summary string) *session.WorkflowResult {
	status := session.ResultSuccess
	if endStep.Outcome == workflow.OutcomeAborted {
		status = session.ResultAborted
	}
	return &session.WorkflowResult{
		SourceWorkflowID: wf.Name,
		Status:           status,
		Summary:          summary,
		SlotsCollected:   map[string]any{},
	}
}
