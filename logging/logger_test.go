package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*CouncilLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.Output = buf
	return NewLogger(cfg), buf
}

func TestCouncilLogger_AttrsAndScoping(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.WithComponent("pipeline").WithRun("run-1").WithContext("requester", "u1").Info("Stage completed", "stage", "design")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Stage completed", entry["msg"])
	assert.Equal(t, "pipeline", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "u1", entry["requester"])
	assert.Equal(t, "design", entry["stage"])
}

func TestCouncilLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Info("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogAgentCall(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	LogAgentCall(l, "openai/gpt-4o", 2, 10*time.Millisecond, errors.New("429"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "429", entry["error"])
	assert.Equal(t, false, entry["success"])
}

func TestCouncilLogger_WithDoesNotMutateParent(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	_ = l.WithContext("k", "v")

	l.Info("plain")
	assert.NotContains(t, buf.String(), `"k"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel(""))
}

func TestOrNoOp(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, OrNoOp(nil))
	l, _ := newBufferLogger(LogLevelInfo)
	assert.Same(t, l, OrNoOp(l))
}

func TestLogStageAndConsensus(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	LogStage(l, "review", "anthropic/claude", time.Second, nil)
	LogStage(l, "implement", "openai/gpt", time.Second, errors.New("exhausted"))
	LogConsensus(l, 3, 2, "A", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"stage":"review"`)
	assert.Contains(t, lines[1], `"level":"ERROR"`)
	assert.Contains(t, lines[2], `"winner":"A"`)
}

// captureLogger records the args of every call.
type captureLogger struct {
	entries [][]any
}

func (c *captureLogger) Debug(_ string, args ...any) { c.entries = append(c.entries, args) }
func (c *captureLogger) Info(_ string, args ...any)  { c.entries = append(c.entries, args) }
func (c *captureLogger) Warn(_ string, args ...any)  { c.entries = append(c.entries, args) }
func (c *captureLogger) Error(_ string, args ...any) { c.entries = append(c.entries, args) }

func TestWith(t *testing.T) {
	t.Run("council logger", func(t *testing.T) {
		l, buf := newBufferLogger(LogLevelInfo)
		With(l, "task_id", "t1", 42, "ignored").Info("scoped")
		l.Info("parent")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"task_id":"t1"`)
		assert.NotContains(t, lines[1], "task_id")
	})

	t.Run("slog adapter", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := NewSlogAdapter(slog.New(slog.NewJSONHandler(buf, nil)))
		With(l, "task_id", "t1").Info("scoped")
		assert.Contains(t, buf.String(), `"task_id":"t1"`)
	})

	t.Run("other loggers", func(t *testing.T) {
		c := &captureLogger{}
		With(c, "task_id", "t1").Warn("scoped", "k", "v")
		require.Len(t, c.entries, 1)
		assert.Equal(t, []any{"task_id", "t1", "k", "v"}, c.entries[0])
	})

	t.Run("nil and no-op", func(t *testing.T) {
		assert.Equal(t, NoOpLogger{}, With(nil, "k", "v"))
		assert.Equal(t, NoOpLogger{}, With(NoOpLogger{}, "k", "v"))
	})
}

func TestForRun(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	ForRun(l.WithComponent("pipeline"), "run-7").Info("Stage completed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-7", entry["run_id"])
	assert.Equal(t, "pipeline", entry["component"])

	c := &captureLogger{}
	ForRun(c, "run-8").Info("x")
	assert.Equal(t, []any{"run_id", "run-8"}, c.entries[0])
}
