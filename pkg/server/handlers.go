package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stepflowhq/stepflow/pkg/chat"
	"github.com/stepflowhq/stepflow/pkg/session"
)

// createSessionResponse is the body of POST /sessions.
type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// activeWorkflowView names the workflow and step a session is currently
// parked on, or is omitted when the session is terminal.
type activeWorkflowView struct {
	WorkflowName  string `json:"workflow_name"`
	CurrentStepID string `json:"current_step_id"`
}

// sessionView is the full session representation returned by
// GET /sessions/{id}: history, active workflow, and coarse status.
type sessionView struct {
	SessionID      string              `json:"session_id"`
	Status         string              `json:"status"`
	ActiveWorkflow *activeWorkflowView `json:"active_workflow,omitempty"`
	History        []session.Message   `json:"history"`
	Escalated      bool                `json:"escalated"`
	StackDepth     int                 `json:"stack_depth"`
}

// messageRequest is the body of POST /sessions/{id}/messages.
type messageRequest struct {
	Text string `json:"text"`
}

// messageResponse is the body returned by POST /sessions/{id}/messages.
type messageResponse struct {
	Reply  string `json:"reply"`
	Status string `json:"status"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.chat.CreateSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: st.SessionID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.chat.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, st := range sessions {
		views = append(views, toSessionView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.chat.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(st))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.chat.DeleteSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.chat.ProcessMessage(r.Context(), id, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, chat.ErrConflict):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	if result.Status == chat.StatusFailed {
		writeJSON(w, http.StatusUnprocessableEntity, messageResponse{
			Reply:  result.Reply,
			Status: string(result.Status),
		})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Reply:  result.Reply,
		Status: string(result.Status),
	})
}

func toSessionView(st *session.State) sessionView {
	view := sessionView{
		SessionID:  st.SessionID,
		Status:     "IN_PROGRESS",
		History:    st.History,
		Escalated:  st.Escalated,
		StackDepth: len(st.Stack),
	}
	if st.IsTerminal() {
		view.Status = "COMPLETED"
	} else if frame := st.ActiveFrame(); frame != nil {
		view.ActiveWorkflow = &activeWorkflowView{
			WorkflowName:  frame.WorkflowName,
			CurrentStepID: frame.CurrentStepID,
		}
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
