// Package executor is the stateless wrapper around the LLM provider that
// runs one conversational turn against a single step: build messages,
// invoke structured-output generation, return a parsed Decision.
package executor

import (
	"context"
	"time"

	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/llm"
	"github.com/stepflowhq/stepflow/pkg/logger"
	"github.com/stepflowhq/stepflow/pkg/observability"
	"github.com/stepflowhq/stepflow/pkg/prompt"
	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

// llmCaller is the observability.Metrics "caller" label this package
// identifies itself with.
const llmCaller = "executor"

// Executor runs a turn of a single step against an LLMProvider.
type Executor struct {
	provider llm.LLMProvider
	metrics  *observability.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics attaches a Prometheus metrics recorder. A nil Metrics (the
// default) makes every Record call a no-op.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New constructs an Executor bound to provider.
func New(provider llm.LLMProvider, opts ...Option) *Executor {
	e := &Executor{provider: provider}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunTurn builds [system=execution-prompt] + history + (user=userInput if
// non-empty), invokes the LLM constrained to the Decision schema, and
// returns the parsed Decision. On any LLM failure it returns the
// deterministic fallback Decision (status=IN_PROGRESS), which the engine
// will treat as HOLD.
func (e *Executor) RunTurn(ctx context.Context, step workflow.Step, frame session.Frame, userInput string, history []session.Message) decision.Decision {
	systemPrompt := prompt.StepExecution(step, frame)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if userInput != "" {
		messages = append(messages, llm.Message{Role: "user", Content: userInput})
	}

	start := time.Now()
	d, err := e.provider.GenerateStructured(ctx, messages, decision.Schema(), nil)
	e.metrics.RecordLLMCall(llmCaller, time.Since(start), err)
	if err != nil {
		logger.GetLogger().Error("step executor: llm call failed", "step", step.ID, "error", err)
		return decision.Fallback(err.Error())
	}
	return d
}
