// Package narrator produces the single bridging utterance that introduces
// a new step after an ADVANCE, PUSH, or POP transition, instead of
// concatenating the prior step's raw reply with an independent
// introduction.
package narrator

import (
	"context"
	"fmt"
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
const llmCaller = "narrator"

// Narrator introduces a new step after a transition, via an LLMProvider.
type Narrator struct {
	provider llm.LLMProvider
	metrics  *observability.Metrics
}

// Option configures a Narrator.
type Option func(*Narrator)

// WithMetrics attaches a Prometheus metrics recorder. A nil Metrics (the
// default) makes every Record call a no-op.
func WithMetrics(m *observability.Metrics) Option {
	return func(n *Narrator) { n.metrics = m }
}

// New constructs a Narrator bound to provider.
func New(provider llm.LLMProvider, opts ...Option) *Narrator {
	n := &Narrator{provider: provider}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IntroduceStep builds the step-introduction prompt for the transition
// described by meta, and returns the LLM's Decision (always IN_PROGRESS
// on success). On LLM failure it falls back to the deterministic
// "Let's proceed. {to.Goal}" reply rather than the generic executor
// fallback, since the step has not failed — only its narration has.
func (n *Narrator) IntroduceStep(ctx context.Context, from, to workflow.Step, meta prompt.TransitionMeta, history []session.Message, userInput string) decision.Decision {
	systemPrompt := prompt.StepIntroduction(from, to, meta)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if userInput != "" {
		messages = append(messages, llm.Message{Role: "user", Content: userInput})
	}

	start := time.Now()
	d, err := n.provider.GenerateStructured(ctx, messages, decision.Schema(), nil)
	n.metrics.RecordLLMCall(llmCaller, time.Since(start), err)
	if err != nil {
		logger.GetLogger().Error("narrator: llm call failed", "from_step", from.ID, "to_step", to.ID, "error", err)
		return decision.Decision{
			ReplyToUser: fmt.Sprintf("Let's proceed. %s", to.Goal),
			Status:      decision.StatusInProgress,
			Reasoning:   fmt.Sprintf("error during introduction: %s", err.Error()),
		}
	}
	d.Status = decision.StatusInProgress
	return d
}
