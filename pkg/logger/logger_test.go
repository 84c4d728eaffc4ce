package logger_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepflowhq/stepflow/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelWarn,
	}
	for input, want := range cases {
		got, err := logger.ParseLevel(input)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestForSessionAndForWorkflowReturnLoggers(t *testing.T) {
	// GetLogger lazily initializes a default logger on first use; exercise
	// that path via the domain-scoped constructors rather than GetLogger
	// directly, since that's how chat and engine actually reach it.
	sessionLogger := logger.ForSession("sess-1")
	assert.NotNil(t, sessionLogger)

	workflowLogger := logger.ForWorkflow("troubleshoot_lukewarm_water")
	assert.NotNil(t, workflowLogger)
}
