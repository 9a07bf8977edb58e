package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/store"
)

func TestParseContext(t *testing.T) {
	got, err := parseContext([]string{"lang=go", "db=sqlite=wal"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "go", "db": "sqlite=wal"}, got)

	got, err = parseContext(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseContext([]string{"novalue"})
	assert.Error(t, err)
}

func TestParseAgents(t *testing.T) {
	got, err := parseAgents([]string{"openai/gpt-4o", "Gemini/gemini-1.5-pro"})
	require.NoError(t, err)
	assert.Equal(t, []core.AgentBinding{
		{Provider: core.ProviderOpenAI, Model: "gpt-4o"},
		{Provider: core.ProviderGemini, Model: "gemini-1.5-pro"},
	}, got)

	for _, bad := range []string{"gpt-4o", "/gpt", "openai/", "mistral/large"} {
		_, err := parseAgents([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "generate", "decide", "dispatch", "models", "history"} {
		assert.True(t, names[want], want)
	}
}

func TestListHistory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mem.Record(ctx, &core.PipelineRun{ID: "r1", RequesterID: "u1", Prompt: "build a cli", Status: core.RunSucceeded, StartedAt: at}))
	require.NoError(t, mem.Record(ctx, &core.TaskRecord{ID: "t1", RequesterID: "u1", Role: core.RoleCoder, AgentUsed: "openai/gpt", Prompt: "add flag", Status: core.TaskSucceeded, CreatedAt: at}))
	require.NoError(t, mem.Record(ctx, &core.TaskRecord{ID: "t2", RequesterID: "u1", Role: core.RoleDebugger, AgentUsed: "anthropic/claude", Prompt: "fix panic", Status: core.TaskFailed, CreatedAt: at.Add(time.Minute)}))

	var buf bytes.Buffer
	require.NoError(t, listRuns(ctx, &buf, mem, "u1", 10))
	assert.Contains(t, buf.String(), "r1")
	assert.Contains(t, buf.String(), "build a cli")

	buf.Reset()
	require.NoError(t, listTasks(ctx, &buf, mem, "u1", 10))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "fix panic")
	assert.Contains(t, lines[0], "failed")
	assert.Contains(t, lines[1], "openai/gpt")

	buf.Reset()
	require.NoError(t, listTasks(ctx, &buf, mem, "nobody", 10))
	assert.Equal(t, "No tasks recorded.\n", buf.String())
}
