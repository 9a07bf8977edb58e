package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/testutil"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/hupe1980/agentcouncil/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	designJSON   = `{"overview":"todo service","components":[{"name":"api","responsibility":"serve requests"}]}`
	reviewClean  = `{"issues":[],"suggestions":["add metrics"]}`
	reviewIssues = "```json\n{\"issues\":[{\"severity\":\"high\",\"description\":\"sql injection\"}]}\n```"
	code         = "package main\n\nfunc main() {}\n"
	revisedCode  = "package main\n\n// fixed\nfunc main() {}\n"
	docs         = "# Todo service"
)

var (
	architect = core.AgentBinding{Role: core.RoleArchitect, Provider: core.ProviderAnthropic, Model: "claude-sonnet"}
	coder     = core.AgentBinding{Role: core.RoleCoder, Provider: core.ProviderOpenAI, Model: "gpt"}
	reviewer  = core.AgentBinding{Role: core.RoleReviewer, Provider: core.ProviderAnthropic, Model: "claude-opus"}
	explainer = core.AgentBinding{Role: core.RoleExplainer, Provider: core.ProviderGemini, Model: "gemini-pro"}
	fallback  = core.AgentBinding{Provider: core.ProviderAnthropic, Model: "claude-default"}
)

func newRegistry(t *testing.T, bindings ...core.AgentBinding) *registry.Registry {
	t.Helper()
	if len(bindings) == 0 {
		bindings = []core.AgentBinding{architect, coder, reviewer, explainer}
	}
	reg, err := registry.New(bindings, fallback)
	require.NoError(t, err)
	return reg
}

func newExecutor(t *testing.T, tr core.Transport, rec core.Recorder, bindings ...core.AgentBinding) *Executor {
	t.Helper()
	return New(newRegistry(t, bindings...), tr, func(o *Options) {
		o.Policy = retry.Policy{MaxAttempts: 2}
		o.Recorder = rec
	})
}

func happyTransport(review string) *testutil.ScriptedTransport {
	return testutil.NewScriptedTransport().
		OnRole(core.RoleArchitect, testutil.OK(designJSON)).
		OnRole(core.RoleCoder, testutil.OK(code), testutil.OK(revisedCode)).
		OnRole(core.RoleReviewer, testutil.OK(review)).
		OnRole(core.RoleExplainer, testutil.OK(docs))
}

func stageNames(run *core.PipelineRun) []core.StageName {
	names := make([]core.StageName, len(run.Stages))
	for i, s := range run.Stages {
		names[i] = s.Stage
	}
	return names
}

func lastPrompt(tr *testutil.ScriptedTransport, role core.Role) string {
	calls := tr.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Binding.Role == role {
			return calls[i].Request.Prompt
		}
	}
	return ""
}

func TestRun_NoIssuesSkipsRevise(t *testing.T) {
	tr := happyTransport(reviewClean)
	rec := &testutil.Recorder{}

	run, err := newExecutor(t, tr, rec).Run(context.Background(), Input{Prompt: "todo app", RequesterID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, core.RunSucceeded, run.Status)
	assert.Equal(t, []core.StageName{core.StageDesign, core.StageImplement, core.StageReview, core.StageDocument}, stageNames(run))
	for _, s := range run.Stages {
		assert.True(t, s.Succeeded, s.Stage)
		assert.Len(t, s.InputDigest, 64)
	}

	assert.JSONEq(t, designJSON, string(run.Artifacts.Design))
	assert.JSONEq(t, reviewClean, string(run.Artifacts.Review))
	assert.Equal(t, code, run.Artifacts.Content)
	assert.False(t, run.Artifacts.Revised)
	assert.Equal(t, docs, run.Artifacts.Documentation)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "u1", run.RequesterID)

	require.Len(t, rec.Runs(), 1)
	assert.Same(t, run, rec.Runs()[0])
}

func TestRun_IssuesTriggerRevise(t *testing.T) {
	tr := happyTransport(reviewIssues)

	run, err := newExecutor(t, tr, nil).Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)

	assert.Equal(t, core.RunSucceeded, run.Status)
	assert.Len(t, run.Stages, 5)
	assert.True(t, run.Stages[3].Succeeded)
	assert.Equal(t, core.StageRevise, run.Stages[3].Stage)
	assert.Equal(t, coder.ID(), run.Stages[3].Agent)
	assert.Equal(t, revisedCode, run.Artifacts.Content)
	assert.True(t, run.Artifacts.Revised)

	assert.Contains(t, lastPrompt(tr, core.RoleCoder), "sql injection")
	assert.Contains(t, lastPrompt(tr, core.RoleExplainer), "// fixed")
}

func TestRun_ReviseFailureFallsBack(t *testing.T) {
	tr := testutil.NewScriptedTransport().
		OnRole(core.RoleArchitect, testutil.OK(designJSON)).
		OnRole(core.RoleCoder, testutil.OK(code), testutil.Fail(errors.New("rate limited"))).
		OnRole(core.RoleReviewer, testutil.OK(reviewIssues)).
		OnRole(core.RoleExplainer, testutil.OK(docs))

	run, err := newExecutor(t, tr, nil).Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)

	assert.Equal(t, core.RunSucceeded, run.Status)
	require.Len(t, run.Stages, 5)

	revise, ok := run.Stage(core.StageRevise)
	require.True(t, ok)
	assert.False(t, revise.Succeeded)
	assert.Equal(t, core.KindRemoteCallExhausted, revise.ErrorKind)
	assert.Contains(t, revise.Error, "rate limited")

	assert.Equal(t, code, run.Artifacts.Content)
	assert.False(t, run.Artifacts.Revised)
	assert.True(t, run.Stages[4].Succeeded)
	assert.NotContains(t, lastPrompt(tr, core.RoleExplainer), "// fixed")
	assert.Contains(t, lastPrompt(tr, core.RoleExplainer), "func main()")
}

func TestRun_FatalStages(t *testing.T) {
	boom := testutil.Fail(errors.New("boom"))
	tests := []struct {
		name   string
		fail   core.Role
		review string
		stages int
	}{
		{"design", core.RoleArchitect, reviewClean, 1},
		{"implement", core.RoleCoder, reviewClean, 2},
		{"review", core.RoleReviewer, reviewClean, 3},
		{"document", core.RoleExplainer, reviewClean, 4},
		{"document after revise", core.RoleExplainer, reviewIssues, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := map[core.Role][]testutil.Reply{
				core.RoleArchitect: {testutil.OK(designJSON)},
				core.RoleCoder:     {testutil.OK(code), testutil.OK(revisedCode)},
				core.RoleReviewer:  {testutil.OK(tt.review)},
				core.RoleExplainer: {testutil.OK(docs)},
			}
			replies[tt.fail] = []testutil.Reply{boom}
			tr := testutil.NewScriptedTransport()
			for role, r := range replies {
				tr.OnRole(role, r...)
			}
			rec := &testutil.Recorder{}

			run, err := newExecutor(t, tr, rec).Run(context.Background(), Input{Prompt: "todo app"})
			require.NoError(t, err)

			assert.Equal(t, core.RunFailed, run.Status)
			require.Len(t, run.Stages, tt.stages)
			last := run.Stages[len(run.Stages)-1]
			assert.False(t, last.Succeeded)
			assert.Equal(t, core.KindRemoteCallExhausted, last.ErrorKind)
			assert.Contains(t, run.Error, "boom")
			for _, s := range run.Stages[:len(run.Stages)-1] {
				assert.True(t, s.Succeeded, s.Stage)
			}
			require.Len(t, rec.Runs(), 1, "failed runs are recorded too")
		})
	}
}

func TestRun_ParseFailureIsStageFailure(t *testing.T) {
	tr := testutil.NewScriptedTransport().
		OnRole(core.RoleArchitect, testutil.OK("Here is my design: a service with an API."))

	run, err := newExecutor(t, tr, nil).Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)

	assert.Equal(t, core.RunFailed, run.Status)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, core.KindResponseParse, run.Stages[0].ErrorKind)
	assert.Empty(t, run.Stages[0].Output)
	assert.Equal(t, 1, tr.TotalCalls(), "parse failures are not retried")
}

func TestRun_ReviewSchemaViolation(t *testing.T) {
	tr := happyTransport(`{"verdict":"looks fine"}`)

	run, err := newExecutor(t, tr, nil).Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)

	assert.Equal(t, core.RunFailed, run.Status)
	require.Len(t, run.Stages, 3)
	assert.Equal(t, core.KindResponseParse, run.Stages[2].ErrorKind)
	assert.Contains(t, run.Stages[2].Error, "issues")
}

func TestRun_EmptyTextIsStageFailure(t *testing.T) {
	tr := testutil.NewScriptedTransport().
		OnRole(core.RoleArchitect, testutil.OK(designJSON)).
		OnRole(core.RoleCoder, testutil.OK("   "))

	run, err := newExecutor(t, tr, nil).Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)

	require.Len(t, run.Stages, 2)
	assert.Equal(t, core.KindResponseParse, run.Stages[1].ErrorKind)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &testutil.Recorder{}

	run, err := newExecutor(t, happyTransport(reviewClean), rec).Run(ctx, Input{Prompt: "todo app"})
	require.NoError(t, err)

	assert.Equal(t, core.RunFailed, run.Status)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, core.KindCanceled, run.Stages[0].ErrorKind)
	assert.Len(t, rec.Runs(), 1)
}

func TestRun_UnboundRoleUsesFallback(t *testing.T) {
	tr := happyTransport(reviewClean)

	run, err := newExecutor(t, tr, nil, architect, coder, reviewer).Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)

	require.Equal(t, core.RunSucceeded, run.Status)
	doc, ok := run.Stage(core.StageDocument)
	require.True(t, ok)
	assert.Equal(t, fallback.ID(), doc.Agent)
}

func TestRun_RequestShape(t *testing.T) {
	tr := happyTransport(reviewClean)
	_, err := newExecutor(t, tr, nil).Run(context.Background(), Input{
		ID:      "run-1",
		Prompt:  "todo app",
		Context: map[string]any{"language": "go"},
	})
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 4)

	assert.Equal(t, core.FormatJSON, calls[0].Request.Format)
	assert.Equal(t, "design", calls[0].Request.SchemaName)
	assert.Contains(t, calls[0].Request.Prompt, `"language": "go"`)
	assert.Equal(t, int64(4000), calls[0].Request.MaxOutputTokens)

	assert.Equal(t, core.FormatText, calls[1].Request.Format)
	assert.Equal(t, implementSystem, calls[1].Request.System)
	assert.Contains(t, calls[1].Request.Prompt, `"overview": "todo service"`)

	assert.Equal(t, "review", calls[2].Request.SchemaName)
	assert.Contains(t, calls[2].Request.Prompt, code)
	assert.Contains(t, calls[3].Request.Prompt, "todo service")
}

func TestRun_RetriesTransientFailure(t *testing.T) {
	tr := testutil.NewScriptedTransport().
		OnRole(core.RoleArchitect, testutil.Fail(errors.New("503")), testutil.OK(designJSON)).
		OnRole(core.RoleCoder, testutil.OK(code)).
		OnRole(core.RoleReviewer, testutil.OK(reviewClean)).
		OnRole(core.RoleExplainer, testutil.OK(docs))

	run, err := newExecutor(t, tr, nil).Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)

	assert.Equal(t, core.RunSucceeded, run.Status)
	assert.Equal(t, 2, tr.CallCount(architect.ID()))
}

func TestRun_Timestamps(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New(newRegistry(t), happyTransport(reviewClean), func(o *Options) {
		o.Policy = retry.Policy{MaxAttempts: 1}
		o.Now = func() time.Time {
			now = now.Add(time.Second)
			return now
		}
	})

	run, err := e.Run(context.Background(), Input{Prompt: "todo app"})
	require.NoError(t, err)
	assert.True(t, run.CompletedAt.After(run.StartedAt))
	assert.Equal(t, time.Second, run.Stages[0].Duration)
}

func TestRun_InvalidInput(t *testing.T) {
	_, err := newExecutor(t, happyTransport(reviewClean), nil).Run(context.Background(), Input{Prompt: "  "})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, digest("s", "p"), digest("s", "p"))
	assert.NotEqual(t, digest("sp", ""), digest("s", "p"))
}

func TestRun_LogsCarryRunID(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = logging.LogLevelDebug
	cfg.Output = buf
	logger := logging.NewLogger(cfg)

	e := New(newRegistry(t, architect, coder, explainer), happyTransport(reviewIssues), func(o *Options) {
		o.Policy = retry.Policy{MaxAttempts: 1}
		o.Logger = logger
	})
	run, err := e.Run(context.Background(), Input{ID: "run-42", Prompt: "todo app"})
	require.NoError(t, err)
	require.Equal(t, core.RunSucceeded, run.Status)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	msgs := map[string]bool{}
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		assert.Equal(t, "run-42", entry["run_id"], line)
		msgs[entry["msg"].(string)] = true
	}
	assert.True(t, msgs["Pipeline run started"])
	assert.True(t, msgs["Role not bound, using default agent"], "reviewer is unbound")
	assert.True(t, msgs["Stage completed"])
	assert.True(t, msgs["Pipeline run finished"])
}
