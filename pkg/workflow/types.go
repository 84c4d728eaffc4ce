// Package workflow holds the immutable definition of troubleshooting
// guides: directed graphs of Steps connected by linear succession, choice
// branches, and sub-workflow links.
package workflow

import "fmt"

// StepType classifies what kind of turn a Step drives.
type StepType string

const (
	StepInstruction  StepType = "INSTRUCTION"
	StepAskChoice    StepType = "ASK_CHOICE"
	StepAskSlot      StepType = "ASK_SLOT"
	StepRespond      StepType = "RESPOND"
	StepEnd          StepType = "END"
	StepCallWorkflow StepType = "CALL_WORKFLOW"
)

// Outcome records how an END step resolves its containing workflow.
// Defaults to OutcomeSuccess when a workflow's END step does not declare
// one explicitly.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeAborted Outcome = "ABORTED"
)

// Media is a visual aid (image, diagram) attached to a step.
type Media struct {
	URL     string `yaml:"url" json:"url"`
	Caption string `yaml:"caption" json:"caption"`
}

// Option is one logical exit of an ASK_CHOICE step.
type Option struct {
	ID         string `yaml:"id" json:"id"`
	Label      string `yaml:"label" json:"label"`
	NextStepID string `yaml:"next_step_id" json:"next_step_id"`
}

// WorkflowLink offers a sub-workflow as a helper for the current step.
// Pushed as a child frame when the LLM returns
// status=CALL_WORKFLOW, result_value=TargetWorkflowID.
type WorkflowLink struct {
	TargetWorkflowID string   `yaml:"target_workflow_id" json:"target_workflow_id"`
	Title            string   `yaml:"title" json:"title"`
	Rationale        string   `yaml:"rationale" json:"rationale"`
	TriggerKeywords  []string `yaml:"trigger_keywords" json:"trigger_keywords"`
}

// Step is one node of a workflow graph. Immutable once loaded.
type Step struct {
	ID                 string         `yaml:"id" json:"id"`
	Type               StepType       `yaml:"type" json:"type"`
	Goal               string         `yaml:"goal" json:"goal"`
	BackgroundContext  string         `yaml:"background_context,omitempty" json:"background_context,omitempty"`
	Warning            string         `yaml:"warning,omitempty" json:"warning,omitempty"`
	Media              *Media         `yaml:"media,omitempty" json:"media,omitempty"`
	Options            []Option       `yaml:"options,omitempty" json:"options,omitempty"`
	NextStep           string         `yaml:"next_step,omitempty" json:"next_step,omitempty"`
	SlotName           string         `yaml:"slot_name,omitempty" json:"slot_name,omitempty"`
	SuggestedLinks     []WorkflowLink `yaml:"suggested_links,omitempty" json:"suggested_links,omitempty"`
	// Outcome only applies to END steps; it is threaded into the
	// WorkflowResult the engine deposits in the parent's mailbox on POP.
	Outcome Outcome `yaml:"outcome,omitempty" json:"outcome,omitempty"`
}

// Workflow is a complete troubleshooting guide: a named graph of steps with
// a designated entry point.
type Workflow struct {
	Name      string          `yaml:"name" json:"name"`
	Title     string          `yaml:"title" json:"title"`
	StartStep string          `yaml:"start_step" json:"start_step"`
	Steps     map[string]Step `yaml:"steps" json:"steps"`
	Version   int             `yaml:"version" json:"version"`
}

// Step looks up a step by id, returning ok=false when absent.
func (w *Workflow) Step(id string) (Step, bool) {
	s, ok := w.Steps[id]
	return s, ok
}

// Validate checks the structural invariants from the data model: the start
// step exists, and every next_step / option.next_step_id resolves within
// the workflow. It does not resolve cross-workflow link targets — that
// requires a WorkflowStore and is done by LoadDir.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow: missing name")
	}
	if _, ok := w.Steps[w.StartStep]; !ok {
		return fmt.Errorf("workflow %q: start_step %q not found in steps", w.Name, w.StartStep)
	}
	for id, step := range w.Steps {
		if step.Type == StepAskChoice {
			for _, opt := range step.Options {
				if _, ok := w.Steps[opt.NextStepID]; !ok {
					return fmt.Errorf("workflow %q: step %q option %q next_step_id %q not found",
						w.Name, id, opt.ID, opt.NextStepID)
				}
			}
		}
		if step.NextStep != "" {
			if _, ok := w.Steps[step.NextStep]; !ok {
				return fmt.Errorf("workflow %q: step %q next_step %q not found", w.Name, id, step.NextStep)
			}
		}
	}
	return nil
}
