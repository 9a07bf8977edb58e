package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedTransport(t *testing.T) {
	a := core.AgentBinding{Provider: core.ProviderOpenAI, Model: "gpt"}
	boom := errors.New("boom")
	tr := NewScriptedTransport().On(a.ID(), Fail(boom), OK("second"))

	_, err := tr.Call(context.Background(), a, core.CallRequest{Prompt: "p"})
	assert.ErrorIs(t, err, boom)

	for n := 0; n < 2; n++ {
		out, err := tr.Call(context.Background(), a, core.CallRequest{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "second", out)
	}

	assert.Equal(t, 3, tr.CallCount(a.ID()))
	assert.Len(t, tr.Calls(), 3)

	_, err = tr.Call(context.Background(), core.AgentBinding{Provider: core.ProviderGemini, Model: "x"}, core.CallRequest{})
	assert.ErrorIs(t, err, ErrUnscripted)
}

func TestScriptedTransport_RoleQueue(t *testing.T) {
	b := core.AgentBinding{Role: core.RoleCoder, Provider: core.ProviderOpenAI, Model: "gpt"}
	tr := NewScriptedTransport().On(b.ID(), OK("by agent")).OnRole(core.RoleCoder, OK("by role"))

	out, err := tr.Call(context.Background(), b, core.CallRequest{})
	require.NoError(t, err)
	assert.Equal(t, "by role", out)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Record(context.Background(), &core.TaskRecord{ID: "t1"}))
	require.NoError(t, r.Record(context.Background(), &core.PipelineRun{ID: "r1"}))

	assert.Len(t, r.Records(), 2)
	require.Len(t, r.Tasks(), 1)
	assert.Equal(t, "t1", r.Tasks()[0].ID)
	assert.Len(t, r.Runs(), 1)
	assert.Empty(t, r.Consensus())
}
