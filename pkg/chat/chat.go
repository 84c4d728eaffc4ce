// Package chat is the thin per-turn facade described in spec.md section
// 4.6: load a session, resolve cold start via the router, invoke the
// engine, persist, and shape the result — plus session lifecycle
// operations (create, get, delete, list).
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/engine"
	"github.com/stepflowhq/stepflow/pkg/logger"
	"github.com/stepflowhq/stepflow/pkg/router"
	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

// TurnStatus is the coarse-grained outcome reported to HTTP callers,
// distinct from decision.Status — it folds router misses and terminal
// sessions into the same small vocabulary an API client needs.
type TurnStatus string

const (
	StatusInProgress TurnStatus = "IN_PROGRESS"
	StatusCompleted  TurnStatus = "COMPLETED"
	StatusFailed     TurnStatus = "FAILED"
)

// TurnResult is the outcome of a single conversation turn.
type TurnResult struct {
	Reply     string
	Status    TurnStatus
	SessionID string
	Decision  *decision.Decision
}

// ErrConflict is returned when a second turn is attempted on a session
// that already has one in flight, enforcing the single-writer-per-session
// rule from the concurrency model.
var ErrConflict = errors.New("chat: a turn is already in progress for this session")

const noGuideFoundReply = "I'm sorry, I couldn't find a specific troubleshooting guide for that issue. Could you try describing it differently?"

// Service is the chat facade. One Service instance is shared across all
// sessions; per-session serialization is enforced internally via a lock
// table keyed by session id.
type Service struct {
	sessions  session.Store
	workflows workflow.Store
	engine    *engine.Engine
	router    router.WorkflowRouter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Service bound to its collaborators.
func New(sessions session.Store, workflows workflow.Store, eng *engine.Engine, r router.WorkflowRouter) *Service {
	return &Service{
		sessions:  sessions,
		workflows: workflows,
		engine:    eng,
		router:    r,
		locks:     make(map[string]*sync.Mutex),
	}
}

// CreateSession creates a new, empty session.
func (s *Service) CreateSession(ctx context.Context) (*session.State, error) {
	return s.sessions.Create(ctx)
}

// GetSession resumes an existing session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*session.State, error) {
	return s.sessions.Get(ctx, sessionID)
}

// DeleteSession removes a session, reporting whether it existed.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	return s.sessions.Delete(ctx, sessionID)
}

// ListSessions returns every known session in no particular order —
// Store.List makes no ordering guarantee; callers sort if they need to.
func (s *Service) ListSessions(ctx context.Context) ([]*session.State, error) {
	return s.sessions.List(ctx)
}

// ProcessMessage runs the full per-turn algorithm: load, cold-start if
// needed, engine turn, persist, shape result. Concurrent calls for the
// same sessionID are serialized; a call that arrives while another is
// already running for that session fails fast with ErrConflict rather
// than queuing, since spec.md's concurrency model permits either
// serialization or CONFLICT and a fast failure is simpler to reason about
// for a caller retrying a user-facing request.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, userText string) (TurnResult, error) {
	lock := s.sessionLock(sessionID)
	if !lock.TryLock() {
		return TurnResult{}, ErrConflict
	}
	defer lock.Unlock()

	st, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: load session %s: %w", sessionID, err)
	}

	if st.IsTerminal() {
		matched, err := s.handleColdStart(ctx, st, userText)
		if err != nil {
			return TurnResult{}, err
		}
		if !matched {
			return TurnResult{
				Reply:     noGuideFoundReply,
				Status:    StatusFailed,
				SessionID: st.SessionID,
			}, nil
		}
	}

	d, err := s.engine.HandleMessage(ctx, st, userText)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: engine turn for session %s: %w", sessionID, err)
	}

	if err := s.sessions.Save(ctx, st); err != nil {
		return TurnResult{}, fmt.Errorf("chat: save session %s: %w", sessionID, err)
	}

	status := StatusInProgress
	if st.IsTerminal() {
		status = StatusCompleted
	}

	decisionCopy := d
	return TurnResult{
		Reply:     d.ReplyToUser,
		Status:    status,
		SessionID: st.SessionID,
		Decision:  &decisionCopy,
	}, nil
}

// handleColdStart consults the router and, on a match, pushes the initial
// frame onto the session's stack. Returns matched=false when the router
// found nothing, leaving the session's stack untouched.
func (s *Service) handleColdStart(ctx context.Context, st *session.State, userText string) (bool, error) {
	log := logger.ForSession(st.SessionID)
	log.Info("cold start")

	match, ok := s.router.FindBest(ctx, userText)
	if !ok {
		log.Warn("router found no matching workflow")
		return false, nil
	}

	wf, err := s.workflows.Get(match.WorkflowID)
	if err != nil {
		return false, fmt.Errorf("chat: router selected unknown workflow %s: %w", match.WorkflowID, err)
	}

	log.Info("router selected workflow", "workflow", wf.Name, "confidence", match.Confidence)
	st.PushFrame(wf.Name, wf.StartStep)
	return true, nil
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}
