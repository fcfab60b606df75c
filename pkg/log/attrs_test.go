package log_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/vigil/pkg/log"
)

func TestTypedAttrs(t *testing.T) {
	assert.Equal(t, slog.String("execution_id", "e1"), log.ExecutionID("e1"))
	assert.Equal(t, slog.String("flow_id", "f1"), log.FlowID("f1"))
	assert.Equal(t, slog.String("step_id", "s1"), log.StepID("s1"))
	assert.Equal(t, slog.String("edge_id", "a-b"), log.EdgeID("a-b"))
	assert.Equal(t, slog.String("event_type", "heartbeat"),
		log.EventType("heartbeat"))
	assert.Equal(t, slog.Int("round", 3), log.Round(3))
}

func TestErrorAttr(t *testing.T) {
	assert.Equal(t, slog.String("error", "boom"),
		log.Error(errors.New("boom")))
	assert.Equal(t, slog.String("error", ""), log.Error(nil))
	assert.Equal(t, slog.String("error", "oops"), log.ErrorString("oops"))
}

func TestNewLogger(t *testing.T) {
	logger := log.New("vigil", "test", "0.0.0")
	assert.NotNil(t, logger)

	logger = log.NewWithLevel("vigil", "test", "0.0.0", slog.LevelDebug)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
