package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflowhq/stepflow/pkg/chat"
	"github.com/stepflowhq/stepflow/pkg/decision"
	"github.com/stepflowhq/stepflow/pkg/engine"
	"github.com/stepflowhq/stepflow/pkg/executor"
	"github.com/stepflowhq/stepflow/pkg/llm/llmtest"
	"github.com/stepflowhq/stepflow/pkg/narrator"
	"github.com/stepflowhq/stepflow/pkg/observability"
	"github.com/stepflowhq/stepflow/pkg/router"
	"github.com/stepflowhq/stepflow/pkg/server"
	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

func testWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name:      "drain_water_heater",
		Title:     "Drain a water heater",
		StartStep: "drain_step_01",
		Steps: map[string]workflow.Step{
			"drain_step_01": {
				ID:       "drain_step_01",
				Type:     workflow.StepInstruction,
				Goal:     "shut off power before draining",
				Warning:  "Turn off power at the breaker before continuing.",
				NextStep: "drain_end",
			},
			"drain_end": {
				ID:   "drain_end",
				Type: workflow.StepEnd,
				Goal: "tank drained",
			},
		},
	}
}

func newTestServer(t *testing.T, fake *llmtest.Fake) (*server.Server, session.Store) {
	t.Helper()
	wfStore := workflow.NewMemoryStore(testWorkflow())
	sessStore := session.NewMemoryStore()
	eng := engine.New(wfStore, executor.New(fake), narrator.New(fake))
	r := router.NewStatic("drain_water_heater")
	chatSvc := chat.New(sessStore, wfStore, eng, r)
	metrics := observability.NewMetrics("stepflow_server_test")
	srv := server.New(":0", chatSvc, server.WithMetrics(metrics))
	return srv, sessStore
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func handlerOf(s *server.Server) http.Handler {
	return s.Handler()
}

func TestCreateAndGetSession(t *testing.T) {
	srv, _ := newTestServer(t, &llmtest.Fake{})

	rec := doJSON(t, handlerOf(srv), http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["session_id"]
	require.NotEmpty(t, id)

	rec = doJSON(t, handlerOf(srv), http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "COMPLETED", view["status"])
}

func TestGetUnknownSessionReturns404(t *testing.T) {
	srv, _ := newTestServer(t, &llmtest.Fake{})
	rec := doJSON(t, handlerOf(srv), http.MethodGet, "/sessions/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	srv, store := newTestServer(t, &llmtest.Fake{})
	st, err := store.Create(context.Background())
	require.NoError(t, err)

	rec := doJSON(t, handlerOf(srv), http.MethodDelete, "/sessions/"+st.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handlerOf(srv), http.MethodDelete, "/sessions/"+st.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageColdStartThenInProgress(t *testing.T) {
	fake := &llmtest.Fake{Responses: []decision.Decision{
		{ReplyToUser: "First, turn off power at the breaker before continuing.", Status: decision.StatusInProgress, Reasoning: "starting drain procedure"},
	}}
	srv, store := newTestServer(t, fake)
	st, err := store.Create(context.Background())
	require.NoError(t, err)

	rec := doJSON(t, handlerOf(srv), http.MethodPost, "/sessions/"+st.SessionID+"/messages", map[string]string{
		"text": "how do I drain my water heater",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "IN_PROGRESS", resp["status"])
	assert.Contains(t, resp["reply"], "breaker")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &llmtest.Fake{})
	rec := doJSON(t, handlerOf(srv), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &llmtest.Fake{})
	rec := doJSON(t, handlerOf(srv), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
