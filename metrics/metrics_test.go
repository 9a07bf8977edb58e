package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/retry"
)

func TestTransport(t *testing.T) {
	c := NewCollector(nil)
	calls := 0
	tr := c.Transport(core.TransportFunc(func(context.Context, core.AgentBinding, core.CallRequest) (string, error) {
		calls++
		if calls == 2 {
			return "", errors.New("boom")
		}
		return "ok", nil
	}))

	b := core.AgentBinding{Provider: core.ProviderOpenAI, Model: "gpt"}
	_, _ = tr.Call(context.Background(), b, core.CallRequest{})
	_, _ = tr.Call(context.Background(), b, core.CallRequest{})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentCalls.WithLabelValues("openai", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.agentCalls.WithLabelValues("openai", "error")))
}

func TestRecorder(t *testing.T) {
	c := NewCollector(nil)
	failing := c.Recorder(core.RecorderFunc(func(context.Context, core.Record) error { return errors.New("down") }))

	err := failing.Record(context.Background(), &core.TaskRecord{Status: core.TaskFailed})
	assert.Error(t, err)
	require.NoError(t, c.Recorder(nil).Record(context.Background(), &core.PipelineRun{Status: core.RunSucceeded}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.records.WithLabelValues("task", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.records.WithLabelValues("pipeline_run", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordFailures.WithLabelValues("task")))
}

func TestPolicy(t *testing.T) {
	c := NewCollector(nil)
	var seen []int
	p := c.Policy(retry.Policy{
		MaxAttempts: 3,
		OnRetry:     func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) },
	})

	_, err := retry.Do(context.Background(), p, func(context.Context) (string, error) {
		return "", errors.New("fail")
	})
	require.Error(t, err)

	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("2")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveRequest("/api/v1/orchestrate/consensus", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/prometheus", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `agentcouncil_http_requests_total{code="200",route="/api/v1/orchestrate/consensus"} 1`)
}
