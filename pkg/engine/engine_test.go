package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/engine"
	"github.com/stepflowhq/stepflow/pkg/executor"
	"github.com/stepflowhq/stepflow/pkg/llm/llmtest"
	"github.com/stepflowhq/stepflow/pkg/narrator"
	"github.com/stepflowhq/stepflow/pkg/observability"
	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

func ptr(s string) *string { return &s }

func lukewarmWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name:      "troubleshoot_lukewarm_water",
		Title:     "Fix Lukewarm Water",
		StartStep: "step_01_thermostat",
		Steps: map[string]workflow.Step{
			"step_01_thermostat": {
				ID:   "step_01_thermostat",
				Type: workflow.StepAskChoice,
				Goal: "determine whether the thermostat is set correctly",
				Options: []workflow.Option{
					{ID: "was_low", Label: "Thermostat was set too low", NextStepID: "end_success"},
					{ID: "was_fine", Label: "Thermostat was already correct", NextStepID: "step_02_sediment"},
				},
			},
			"step_02_sediment": {
				ID:       "step_02_sediment",
				Type:     workflow.StepInstruction,
				Goal:     "flush sediment from the tank",
				NextStep: "end_success",
				SuggestedLinks: []workflow.WorkflowLink{
					{TargetWorkflowID: "drain_water_heater", Title: "How to drain a water heater", Rationale: "needed before flushing"},
				},
			},
			"end_success": {
				ID:   "end_success",
				Type: workflow.StepEnd,
				Goal: "lukewarm water issue resolved",
			},
		},
	}
}

func drainWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name:      "drain_water_heater",
		Title:     "Drain a water heater",
		StartStep: "drain_step_01",
		Steps: map[string]workflow.Step{
			"drain_step_01": {
				ID:       "drain_step_01",
				Type:     workflow.StepInstruction,
				Goal:     "shut off power to the heater",
				Warning:  "turn off the breaker before touching any wiring",
				NextStep: "drain_end",
			},
			"drain_end": {
				ID:   "drain_end",
				Type: workflow.StepEnd,
				Goal: "water heater drained",
			},
		},
	}
}

func newTestEngine(fake *llmtest.Fake) *engine.Engine {
	store := workflow.NewMemoryStore(lukewarmWorkflow(), drainWorkflow())
	exec := executor.New(fake)
	narr := narrator.New(fake)
	return engine.New(store, exec, narr)
}

// Scenario: HOLD. An IN_PROGRESS decision leaves the frame on the same
// step and returns the LLM's reply verbatim.
func TestHandleMessage_InProgressHolds(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "Can you tell me the thermostat dial setting?", Status: decision.StatusInProgress, Reasoning: "need more info"},
	}}
	e := newTestEngine(fake)

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_01_thermostat")

	got, err := e.HandleMessage(context.Background(), st, "it's lukewarm")
	require.NoError(t, err)
	assert.Equal(t, "Can you tell me the thermostat dial setting?", got.ReplyToUser)
	assert.Equal(t, "step_01_thermostat", st.ActiveFrame().CurrentStepID)
	assert.Len(t, st.Stack, 1)
}

// Scenario: ADVANCE via resolved ASK_CHOICE option, step introduced by the
// narrator rather than the executor's own reply.
func TestHandleMessage_CompleteAdvancesChoiceAndNarrates(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "noted", Status: decision.StatusComplete, ResultValue: ptr("was_fine"), Reasoning: "thermostat fine"},
		{ReplyToUser: "Good, now let's flush the sediment from the tank.", Status: decision.StatusInProgress, Reasoning: "bridging"},
	}}
	e := newTestEngine(fake)

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_01_thermostat")

	got, err := e.HandleMessage(context.Background(), st, "thermostat was already set correctly")
	require.NoError(t, err)
	assert.Equal(t, "step_02_sediment", st.ActiveFrame().CurrentStepID)
	assert.Contains(t, got.ReplyToUser, "sediment")
	require.Len(t, fake.Requests, 2)
}

// Scenario: ADVANCE whose resolved next step is itself END is treated as a
// POP — with an empty stack the reply is the terminal decision unchanged,
// no narrator call occurs.
func TestHandleMessage_AdvanceIntoEndIsPopWithEmptyStack(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "Great, that solved it.", Status: decision.StatusComplete, ResultValue: ptr("was_low"), Reasoning: "thermostat was low"},
	}}
	e := newTestEngine(fake)

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_01_thermostat")

	got, err := e.HandleMessage(context.Background(), st, "it was set too low")
	require.NoError(t, err)
	assert.Equal(t, "Great, that solved it.", got.ReplyToUser)
	assert.True(t, st.IsTerminal())
	require.Len(t, fake.Requests, 1, "no narrator call when the stack is empty after POP")
}

// Scenario: a frame already sitting on an END step at turn start (a
// degenerate one-step workflow) receives a COMPLETE; the mailbox summary
// is the closing decision's own reply, not the END step's goal text.
func TestHandleMessage_CurrentStepAlreadyEndUsesDecisionReply(t *testing.T) {
	oneStep := &workflow.Workflow{
		Name:      "confirm_resolved",
		Title:     "Confirm resolved",
		StartStep: "only_end",
		Steps: map[string]workflow.Step{
			"only_end": {
				ID:   "only_end",
				Type: workflow.StepEnd,
				Goal: "issue confirmed resolved",
			},
		},
	}
	popFake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "Glad it's fixed, have a great day!", Status: decision.StatusComplete, Reasoning: "user confirmed resolution"},
		{ReplyToUser: "Welcome back, now let's flush the sediment.", Status: decision.StatusInProgress, Reasoning: "bridging back to parent"},
	}}
	store := workflow.NewMemoryStore(lukewarmWorkflow(), drainWorkflow(), oneStep)
	e := engine.New(store, executor.New(popFake), narrator.New(popFake))

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_02_sediment")
	st.PushFrame("confirm_resolved", "only_end")

	_, err := e.HandleMessage(context.Background(), st, "yep all good now, thanks")
	require.NoError(t, err)
	require.Len(t, popFake.Requests, 2, "executor call then narrator call")

	narratorSystemPrompt := popFake.Requests[1][0].Content
	assert.Contains(t, narratorSystemPrompt, "Glad it's fixed, have a great day!",
		"a COMPLETE on an already-END current step uses the decision's own reply as the mailbox summary")
	assert.NotContains(t, narratorSystemPrompt, "issue confirmed resolved",
		"the END step's goal text must not be used when the step itself produced the closing decision")
}

// Scenario: CALL_WORKFLOW pushes a child frame and the narrator introduces
// its start step; the parent frame remains beneath it on the stack.
func TestHandleMessage_CallWorkflowPushes(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "let's drain it first", Status: decision.StatusCallWorkflow, ResultValue: ptr("drain_water_heater"), Reasoning: "sediment flush needs draining first"},
		{ReplyToUser: "First, let's shut off power to the heater. Turn off the breaker before touching any wiring.", Status: decision.StatusInProgress, Reasoning: "bridging into helper"},
	}}
	e := newTestEngine(fake)

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_02_sediment")

	got, err := e.HandleMessage(context.Background(), st, "how do I drain it")
	require.NoError(t, err)
	require.Len(t, st.Stack, 2)
	assert.Equal(t, "drain_water_heater", st.ActiveFrame().WorkflowName)
	assert.Equal(t, "drain_step_01", st.ActiveFrame().CurrentStepID)
	assert.Equal(t, "troubleshoot_lukewarm_water", st.Stack[0].WorkflowName)
	assert.Contains(t, got.ReplyToUser, "breaker")
}

// Scenario: POP delivers a WorkflowResult into the parent's mailbox, the
// narrator sees it in its system prompt, and the mailbox is cleared in the
// same turn that delivered it.
func TestHandleMessage_PopDeliversMailboxAndClearsAfterConsumption(t *testing.T) {
	popFake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "done draining", Status: decision.StatusComplete, Reasoning: "drained"},
		{ReplyToUser: "Welcome back, now let's flush the sediment.", Status: decision.StatusInProgress, Reasoning: "bridging back to parent"},
	}}
	e := newTestEngine(popFake)

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_02_sediment")
	st.PushFrame("drain_water_heater", "drain_step_01")

	_, err := e.HandleMessage(context.Background(), st, "done, power is off and tank is drained")
	require.NoError(t, err)
	require.Len(t, st.Stack, 1)
	assert.Equal(t, "troubleshoot_lukewarm_water", st.ActiveFrame().WorkflowName)
	assert.Nil(t, st.ActiveFrame().PendingChildResult, "mailbox is cleared in the same turn it is delivered and consumed")

	require.Len(t, popFake.Requests, 2, "executor call then narrator call")
	narratorSystemPrompt := popFake.Requests[1][0].Content
	assert.Contains(t, narratorSystemPrompt, "water heater drained",
		"ADVANCE into END uses the END step's own goal as the mailbox summary, not the closing decision's reply")
	assert.NotContains(t, narratorSystemPrompt, "done draining",
		"the closing decision's reply must not leak into the mailbox summary for an ADVANCE-resolved END")
}

// Scenario: GIVE_UP holds the frame in place but flags the session as
// escalated for human follow-up.
func TestHandleMessage_GiveUpHoldsAndEscalates(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "This requires a licensed electrician.", Status: decision.StatusGiveUp, Reasoning: "exceeds DIY safety threshold"},
	}}
	e := newTestEngine(fake)

	st := session.New("s1")
	st.PushFrame("drain_water_heater", "drain_step_01")

	got, err := e.HandleMessage(context.Background(), st, "I see sparks")
	require.NoError(t, err)
	assert.Equal(t, decision.StatusGiveUp, got.Status)
	assert.True(t, st.Escalated)
	assert.Equal(t, "drain_step_01", st.ActiveFrame().CurrentStepID)
}

// Scenario: with metrics wired into the engine, executor, and narrator via
// WithMetrics, an escalating turn increments the turn, LLM call, and
// escalation counters — this is the actual call graph, not an isolated
// unit test of the Metrics type.
func TestHandleMessage_RecordsMetricsThroughTheRealCallGraph(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "This requires a licensed electrician.", Status: decision.StatusGiveUp, Reasoning: "exceeds DIY safety threshold"},
	}}
	m := observability.NewMetrics("stepflow_engine_test")
	store := workflow.NewMemoryStore(drainWorkflow())
	e := engine.New(store,
		executor.New(fake, executor.WithMetrics(m)),
		narrator.New(fake, narrator.WithMetrics(m)),
		engine.WithMetrics(m),
	)

	st := session.New("s1")
	st.PushFrame("drain_water_heater", "drain_step_01")

	_, err := e.HandleMessage(context.Background(), st, "I see sparks")
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var sawTurn, sawLLMCall, sawEscalation bool
	for _, f := range families {
		switch f.GetName() {
		case "stepflow_engine_test_engine_turns_total":
			sawTurn = true
		case "stepflow_engine_test_llm_calls_total":
			sawLLMCall = true
		case "stepflow_engine_test_engine_escalations_total":
			for _, metric := range f.GetMetric() {
				if metric.GetCounter().GetValue() > 0 {
					sawEscalation = true
				}
			}
		}
	}
	assert.True(t, sawTurn, "engine turn should be recorded through HandleMessage")
	assert.True(t, sawLLMCall, "executor's LLM call should be recorded through RunTurn")
	assert.True(t, sawEscalation, "GIVE_UP should increment the escalation counter")
}

// Invariant: a CALL_WORKFLOW to an unknown target is refused and the turn
// holds in place rather than corrupting the stack.
func TestHandleMessage_CallUnknownWorkflowHolds(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "let me check something else", Status: decision.StatusCallWorkflow, ResultValue: ptr("does_not_exist"), Reasoning: "bad reference"},
	}}
	e := newTestEngine(fake)

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_02_sediment")

	_, err := e.HandleMessage(context.Background(), st, "hmm")
	require.NoError(t, err)
	require.Len(t, st.Stack, 1)
	assert.Equal(t, "step_02_sediment", st.ActiveFrame().CurrentStepID)
}

// Invariant: an empty call stack is refused outright — the engine never
// silently no-ops on invalid state.
func TestHandleMessage_EmptyStackIsInvalidState(t *testing.T) {
	fake := &llmtest.Fake{}
	e := newTestEngine(fake)
	st := session.New("s1")

	_, err := e.HandleMessage(context.Background(), st, "hello")
	require.ErrorIs(t, err, engine.ErrInvalidState)
}

// Invariant: an ADVANCE edge to a non-existent step is a fatal,
// non-persisted error, not a silent HOLD.
func TestHandleMessage_MalformedNextStepIsFatal(t *testing.T) {
	broken := lukewarmWorkflow()
	step := broken.Steps["step_02_sediment"]
	step.NextStep = "ghost_step"
	broken.Steps["step_02_sediment"] = step

	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "done", Status: decision.StatusComplete, Reasoning: "sediment flushed"},
	}}
	store := workflow.NewMemoryStore(broken, drainWorkflow())
	e := engine.New(store, executor.New(fake), narrator.New(fake))

	st := session.New("s1")
	st.PushFrame("troubleshoot_lukewarm_water", "step_02_sediment")

	_, err := e.HandleMessage(context.Background(), st, "flushed it")
	require.ErrorIs(t, err, engine.ErrMalformedWorkflow)
}

// Round-trip/history law: every turn appends exactly one user message
// (when non-empty) followed by one assistant message to history.
func TestHandleMessage_HistoryAppendedPerTurn(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "tell me more", Status: decision.StatusInProgress, Reasoning: "gathering info"},
	}}
	e := newTestEngine(fake)

	st := session.New("s1")
	st.PushFrame("drain_water_heater", "drain_step_01")

	_, err := e.HandleMessage(context.Background(), st, "breaker is off")
	require.NoError(t, err)
	require.Len(t, st.History, 2)
	assert.Equal(t, session.RoleUser, st.History[0].Role)
	assert.Equal(t, "breaker is off", st.History[0].Content)
	assert.Equal(t, session.RoleAssistant, st.History[1].Role)
	assert.Equal(t, "tell me more", st.History[1].Content)
}
