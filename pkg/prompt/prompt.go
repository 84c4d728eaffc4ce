// Package prompt assembles LLM system prompts from a Step and the active
// Frame. Pure functions only: no I/O, no hidden state, so the two
// templates (step-execution and step-introduction) are straightforward to
// golden-file test and to port. Prompts are plain text — the assembler
// never escapes markup.
package prompt

import (
	"fmt"
	"strings"

	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

const rolePreamble = "You are an expert DIY troubleshooting assistant guiding a user step by step through a repair procedure."

// StepExecution assembles the system prompt for running a conversational
// turn against step within frame. Block order is fixed: preamble, goal and
// context, safety warning (if present), mailbox (if a child result is
// pending), decision rubric, valid outcomes (ASK_CHOICE only), and
// available helper workflows (if any are suggested).
func StepExecution(step workflow.Step, frame session.Frame) string {
	var b strings.Builder

	b.WriteString(rolePreamble)
	b.WriteString("\n\n")

	b.WriteString("CURRENT STEP GOAL\n")
	b.WriteString(step.Goal)
	b.WriteString("\n")
	if step.BackgroundContext != "" {
		b.WriteString("\nCONTEXT\n")
		b.WriteString(step.BackgroundContext)
		b.WriteString("\n")
	}

	if step.Warning != "" {
		b.WriteString("\nCRITICAL SAFETY WARNING\n")
		b.WriteString(step.Warning)
		b.WriteString("\nThe user must explicitly acknowledge this warning before you report the goal as satisfied.\n")
	}

	if frame.PendingChildResult != nil {
		child := frame.PendingChildResult
		b.WriteString("\nTHE USER JUST RETURNED FROM A HELPER PROCEDURE\n")
		fmt.Fprintf(&b, "Sub-procedure %q finished with status %s: %s\n", child.SourceWorkflowID, child.Status, child.Summary)
		b.WriteString("Welcome the user back and decide whether the current step's goal is now satisfied.\n")
	}

	b.WriteString("\nDECISION RUBRIC\n")
	b.WriteString("Mark the step COMPLETE when the goal above is satisfied. Otherwise continue the conversation, offering concrete guidance toward the goal. Use GIVE_UP only for an unresolvable blocker or a safety concern beyond what a DIY user should attempt.\n")

	if step.Type == workflow.StepAskChoice && len(step.Options) > 0 {
		b.WriteString("\nVALID OUTCOMES\n")
		for _, opt := range step.Options {
			fmt.Fprintf(&b, "%s | %s\n", opt.ID, opt.Label)
		}
		b.WriteString("When you return status=COMPLETE, result_value MUST equal one of the ids listed above.\n")
	}

	if len(step.SuggestedLinks) > 0 {
		b.WriteString("\nAVAILABLE HELPER WORKFLOWS\n")
		for _, link := range step.SuggestedLinks {
			fmt.Fprintf(&b, "%s | %s | %s\n", link.TargetWorkflowID, link.Title, link.Rationale)
		}
		b.WriteString("Return status=CALL_WORKFLOW, with result_value set to the workflow id, only when the user clearly needs or requests that helper procedure.\n")
	}

	return b.String()
}

// TransitionMeta carries everything the introduction prompt needs about
// the transition besides the two step definitions themselves.
type TransitionMeta struct {
	TransitionType decision.Transition
	Reasoning      string
	WorkflowLink   *workflow.WorkflowLink
	ChildResult    *session.WorkflowResult
}

// StepIntroduction assembles the system prompt used after an ADVANCE,
// PUSH, or POP transition, to produce one coherent utterance bridging the
// completed step (from) to the new current step (to).
func StepIntroduction(from, to workflow.Step, meta TransitionMeta) string {
	var b strings.Builder

	b.WriteString(rolePreamble)
	b.WriteString("\n\n")

	switch meta.TransitionType {
	case decision.TransitionAdvance:
		fmt.Fprintf(&b, "The prior step %q is complete because: %s\n", from.Goal, meta.Reasoning)
	case decision.TransitionPush:
		title, rationale := "", ""
		if meta.WorkflowLink != nil {
			title = meta.WorkflowLink.Title
			rationale = meta.WorkflowLink.Rationale
		}
		fmt.Fprintf(&b, "Branching to the sub-procedure %q: %s\n", title, rationale)
	case decision.TransitionPop:
		source, summary := "", ""
		if meta.ChildResult != nil {
			source = meta.ChildResult.SourceWorkflowID
			summary = meta.ChildResult.Summary
		}
		fmt.Fprintf(&b, "The sub-procedure %q finished with summary: %s\n", source, summary)
	}

	b.WriteString("\nSTEP TO INTRODUCE\n")
	b.WriteString(to.Goal)
	b.WriteString("\n")
	if to.BackgroundContext != "" {
		b.WriteString("\nCONTEXT\n")
		b.WriteString(to.BackgroundContext)
		b.WriteString("\n")
	}
	if to.Warning != "" {
		b.WriteString("\nCRITICAL SAFETY WARNING\n")
		b.WriteString(to.Warning)
		b.WriteString("\nSurface this warning prominently in your reply.\n")
	}

	b.WriteString("\nWrite one unified, natural reply that acknowledges what happened above and introduces this new step. Return status=IN_PROGRESS — the new step has not yet begun.\n")

	return b.String()
}
