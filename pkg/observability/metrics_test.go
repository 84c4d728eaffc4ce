package observability_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflowhq/stepflow/pkg/observability"
)

func TestMetrics_RecordAndGather(t *testing.T) {
	m := observability.NewMetrics("stepflow_test")

	m.RecordTurn("ADVANCE", 50*time.Millisecond)
	m.RecordEscalation()
	m.RecordLLMCall("executor", 200*time.Millisecond, nil)
	m.RecordLLMCall("narrator", 100*time.Millisecond, errors.New("timeout"))
	m.RecordSessionCreated()
	m.RecordHTTPRequest("POST", "/sessions/{id}/messages", 200, 10*time.Millisecond)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn("HOLD", time.Millisecond)
		m.RecordEscalation()
		m.RecordLLMCall("executor", time.Millisecond, nil)
		m.RecordSessionCreated()
		m.RecordHTTPRequest("GET", "/sessions", 404, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}
