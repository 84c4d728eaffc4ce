// Package llm defines the provider-agnostic contract the workflow engine
// uses to obtain structured Decision output from a language model, along
// with the request/config shapes. Grounded on the teacher's
// pkg/model.LLM interface (Name/Provider/GenerateContent) and
// pkg/llms.StructuredOutputConfig, adapted to return a parsed Decision
// directly instead of a generic chat response.
package llm

import (
	"context"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/stepflowhq/stepflow/pkg/decision"
)

// Provider identifies which vendor backs an LLMProvider implementation.
// Mirrors the teacher's model.Provider enum.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderUnknown   Provider = "unknown"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// GenerateConfig carries the generation-time knobs the step executor and
// narrator use when constraining a call. Named and shaped after the
// teacher's model.GenerateConfig.
type GenerateConfig struct {
	Temperature *float64
	MaxTokens   int
	// Deadline bounds the call; when exceeded callers must treat the
	// failure identically to any other LLMFailure (deterministic
	// fallback), per spec.md section 5's cancellation policy.
	Deadline time.Duration
}

// Clone returns a deep copy so callers can safely mutate the config
// per-call without aliasing a shared default.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		t := *c.Temperature
		clone.Temperature = &t
	}
	return &clone
}

// LLMProvider generates a structured Decision from a message history,
// constrained to the given JSON schema. Implementations must parse the
// provider's raw output into the Decision schema or return an error — the
// caller (executor/narrator) is responsible for substituting the
// deterministic fallback on any error.
type LLMProvider interface {
	Name() string
	Provider() Provider
	GenerateStructured(ctx context.Context, messages []Message, schema *jsonschema.Schema, cfg *GenerateConfig) (decision.Decision, error)
}
