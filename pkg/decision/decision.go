// Package decision defines the structured-output contract the LLM must
// satisfy on every turn, and the engine-internal state-machine transition
// derived from it. The two enums are deliberately disjoint — Decision
// status is an LLM-facing concept, Transition is the engine's own
// classification of what happened to the call stack — and only pkg/engine
// is permitted to map one to the other.
package decision

import (
	"github.com/invopop/jsonschema"
)

// Status is the LLM's per-turn assessment of the current step.
type Status string

const (
	StatusInProgress   Status = "IN_PROGRESS"
	StatusComplete     Status = "COMPLETE"
	StatusCallWorkflow Status = "CALL_WORKFLOW"
	StatusGiveUp       Status = "GIVE_UP"
)

// Decision is the structured JSON object the LLM returns every turn.
type Decision struct {
	ReplyToUser string  `json:"reply_to_user" jsonschema:"required,description=The natural language reply to show the user. Be helpful, clear, and safe."`
	Status      Status  `json:"status" jsonschema:"required,enum=IN_PROGRESS,enum=COMPLETE,enum=CALL_WORKFLOW,enum=GIVE_UP,description=The status of the current step after this turn."`
	ResultValue *string `json:"result_value,omitempty" jsonschema:"description=The option id (choice steps), slot value (slot steps), or target workflow id (branching), depending on status."`
	Reasoning   string  `json:"reasoning" jsonschema:"required,description=Brief justification for the chosen status, used for logging and transition narration."`
}

// Transition is the engine-internal classification of what happened to the
// session's call stack this turn. Never exposed to the LLM.
type Transition string

const (
	TransitionHold    Transition = "HOLD"
	TransitionAdvance Transition = "ADVANCE"
	TransitionPush    Transition = "PUSH"
	TransitionPop     Transition = "POP"
)

// Schema returns the JSON Schema the LLM must be constrained to when
// generating a Decision, built via invopop/jsonschema the same way the
// teacher's structured-output configs are built from Go types.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	return reflector.Reflect(&Decision{})
}

// Fallback constructs the deterministic Decision the executor/narrator
// return when the LLM call itself fails (network, timeout, or
// schema-parse failure). It always surfaces as HOLD.
func Fallback(reason string) Decision {
	return Decision{
		ReplyToUser: "System error, please try again.",
		Status:      StatusInProgress,
		Reasoning:   reason,
	}
}
