// Package session holds the per-user runtime state of the troubleshooting
// engine: the call stack of workflow frames, conversation history, and the
// session-wide slot values collected along the way.
//
// The shape is adapted from the teacher's own session package (separate
// interfaces for the session handle and its persistence Service), but the
// payload is this domain's call-stack state machine rather than an
// arbitrary key-value/event-log model.
package session

import "time"

// Role distinguishes user and assistant turns in history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResultStatus is the terminal status of a completed sub-workflow.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultAborted ResultStatus = "ABORTED"
)

// WorkflowResult is deposited into a parent frame's mailbox when a child
// workflow's END step is reached.
type WorkflowResult struct {
	SourceWorkflowID string         `json:"source_workflow_id"`
	Status           ResultStatus   `json:"status"`
	Summary          string         `json:"summary"`
	SlotsCollected   map[string]any `json:"slots_collected"`
}

// Frame is one call-stack entry: a workflow activation paired with a
// pointer to its current step, and a single-slot mailbox for a finished
// child's result. Frames are owned by the session; a frame's lifetime
// equals one activation of a workflow.
type Frame struct {
	WorkflowName      string          `json:"workflow_name"`
	CurrentStepID     string          `json:"current_step_id"`
	PendingChildResult *WorkflowResult `json:"pending_child_result,omitempty"`
}

// State is the full runtime state of one session.
type State struct {
	SessionID string         `json:"session_id"`
	Stack     []Frame        `json:"stack"`
	Slots     map[string]any `json:"slots"`
	History   []Message      `json:"history"`
	// Escalated records that the engine has, at least once, surfaced a
	// GIVE_UP decision for this session. It never feeds back into
	// applyDecision; it is a side annotation for callers that want to
	// flag a session for human follow-up.
	Escalated bool      `json:"escalated"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty session state with the given id and no active frame.
func New(sessionID string) *State {
	return &State{
		SessionID: sessionID,
		Stack:     nil,
		Slots:     make(map[string]any),
		History:   nil,
		UpdatedAt: time.Now(),
	}
}

// ActiveFrame returns a pointer to the top-of-stack frame, or nil when the
// stack is empty (a terminal session awaiting a fresh workflow selection).
func (s *State) ActiveFrame() *Frame {
	if len(s.Stack) == 0 {
		return nil
	}
	return &s.Stack[len(s.Stack)-1]
}

// PushFrame activates a new workflow on top of the stack.
func (s *State) PushFrame(workflowName, startStepID string) {
	s.Stack = append(s.Stack, Frame{WorkflowName: workflowName, CurrentStepID: startStepID})
}

// PopFrame removes the active frame and, if a parent frame remains,
// deposits result into its mailbox. Returns false if the stack was already
// empty.
func (s *State) PopFrame(result *WorkflowResult) bool {
	if len(s.Stack) == 0 {
		return false
	}
	s.Stack = s.Stack[:len(s.Stack)-1]
	if result != nil {
		if parent := s.ActiveFrame(); parent != nil {
			parent.PendingChildResult = result
		}
	}
	return true
}

// AppendTurn appends the optional user message and the assistant reply to
// history, preserving strict user/assistant alternation per turn.
func (s *State) AppendTurn(userInput, assistantReply string) {
	if userInput != "" {
		s.History = append(s.History, Message{Role: RoleUser, Content: userInput})
	}
	s.History = append(s.History, Message{Role: RoleAssistant, Content: assistantReply})
}

// IsTerminal reports whether the session has an empty call stack, meaning
// any further message requires a fresh cold-start workflow selection.
func (s *State) IsTerminal() bool {
	return len(s.Stack) == 0
}
