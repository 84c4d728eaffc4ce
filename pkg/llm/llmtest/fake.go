// Package llmtest provides a scriptable fake LLMProvider for exercising
// pkg/executor, pkg/narrator, and pkg/engine without a live model, the way
// the teacher's own test files construct in-memory fakes for session and
// workflow services.
package llmtest

import (
	"context"
	"errors"

	"github.com/invopop/jsonschema"

	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/llm"
)

// Fake is an LLMProvider whose responses are scripted by the test.
// Responses are consumed in order; Err, when set, is returned instead of
// popping a response (and then cleared), letting a single test simulate
// exactly one failing call mid-sequence.
type Fake struct {
	Responses []decision.Decision
	Err       error
	calls     int
	Requests  [][]llm.Message
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Provider() llm.Provider { return llm.ProviderUnknown }

func (f *Fake) GenerateStructured(ctx context.Context, messages []llm.Message, schema *jsonschema.Schema, cfg *llm.GenerateConfig) (decision.Decision, error) {
	f.Requests = append(f.Requests, messages)
	if f.Err != nil {
		err := f.Err
		f.Err = nil
		return decision.Decision{}, err
	}
	if f.calls >= len(f.Responses) {
		return decision.Decision{}, errors.New("llmtest: fake exhausted its scripted responses")
	}
	resp := f.Responses[f.calls]
	f.calls++
	return resp, nil
}

var _ llm.LLMProvider = (*Fake)(nil)
