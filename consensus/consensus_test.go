package consensus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/testutil"
	"github.com/hupe1980/agentcouncil/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	claude = core.AgentBinding{Provider: core.ProviderAnthropic, Model: "claude"}
	gpt    = core.AgentBinding{Provider: core.ProviderOpenAI, Model: "gpt"}
	gemini = core.AgentBinding{Provider: core.ProviderGemini, Model: "gemini"}
	panel  = []core.AgentBinding{claude, gpt, gemini}
)

func vote(choice, reasoning string) testutil.Reply {
	return testutil.OK(fmt.Sprintf(`{"choice":%q,"reasoning":%q,"confidence":0.8}`, choice, reasoning))
}

func noSleep() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: 0}
}

func newEngine(tr core.Transport, rec core.Recorder) *Engine {
	return New(tr, func(o *Options) {
		o.Policy = noSleep()
		o.Recorder = rec
	})
}

func TestDecide_Majority(t *testing.T) {
	tr := testutil.NewScriptedTransport().
		On(claude.ID(), vote("A", "r1")).
		On(gpt.ID(), vote("B", "r2")).
		On(gemini.ID(), testutil.OK("```json\n{\"choice\":\"A\",\"reasoning\":\"r3\",\"confidence\":1}\n```"))
	rec := &testutil.Recorder{}

	res, err := newEngine(tr, rec).Decide(context.Background(), "Which?", []string{"A", "B"}, panel)
	require.NoError(t, err)

	require.NotNil(t, res.WinningChoice)
	assert.Equal(t, "A", *res.WinningChoice)
	assert.InDelta(t, 2.0/3.0, res.AgreementRatio, 1e-9)
	assert.Equal(t, []string{"r1", "r3"}, res.SupportingReasoning)
	require.Len(t, res.RawVotes, 3)
	assert.Equal(t, []string{claude.ID(), gpt.ID(), gemini.ID()},
		[]string{res.RawVotes[0].AgentID, res.RawVotes[1].AgentID, res.RawVotes[2].AgentID})
	assert.Empty(t, res.Failures)

	require.Len(t, rec.Consensus(), 1)
	assert.Same(t, res, rec.Consensus()[0])
}

func TestDecide_PartialFailure(t *testing.T) {
	tr := testutil.NewScriptedTransport().
		On(claude.ID(), vote("A", "r1")).
		On(gpt.ID(), testutil.Fail(errors.New("503"))).
		On(gemini.ID(), testutil.OK("I think A is great"))

	res, err := newEngine(tr, nil).Decide(context.Background(), "Which?", []string{"A", "B"}, panel)
	require.NoError(t, err)

	require.NotNil(t, res.WinningChoice)
	assert.Equal(t, "A", *res.WinningChoice)
	assert.Equal(t, 1.0, res.AgreementRatio, "ratio is over valid votes, not fan-out")
	assert.Len(t, res.RawVotes, 1)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, core.KindRemoteCallExhausted, res.Failures[0].Kind)
	assert.Equal(t, core.KindResponseParse, res.Failures[1].Kind)
	assert.Equal(t, 3, tr.CallCount(gpt.ID()))
	assert.Equal(t, 1, tr.CallCount(gemini.ID()), "parse failures are not retried")
}

func TestDecide_AllAgentsFail(t *testing.T) {
	tr := testutil.NewScriptedTransport().
		On(claude.ID(), testutil.Fail(errors.New("down"))).
		On(gpt.ID(), testutil.Fail(errors.New("down"))).
		On(gemini.ID(), testutil.Fail(errors.New("down")))

	res, err := newEngine(tr, nil).Decide(context.Background(), "Which?", []string{"A", "B"}, panel)
	require.NoError(t, err)

	assert.Nil(t, res.WinningChoice)
	assert.Zero(t, res.AgreementRatio)
	assert.NotNil(t, res.RawVotes)
	assert.Empty(t, res.RawVotes)
	assert.Empty(t, res.SupportingReasoning)
	assert.Len(t, res.Failures, 3)
	assert.Equal(t, core.ErrNoValidVotes.Message, res.Error)
	assert.Equal(t, "undecided", res.RecordStatus())
}

func TestDecide_Deterministic(t *testing.T) {
	script := func() *testutil.ScriptedTransport {
		return testutil.NewScriptedTransport().
			On(claude.ID(), vote("B", "x")).
			On(gpt.ID(), vote("A", "y")).
			On(gemini.ID(), vote("C", "z"))
	}

	first, err := newEngine(script(), nil).Decide(context.Background(), "Which?", []string{"A", "B", "C"}, panel)
	require.NoError(t, err)
	for n := 0; n < 5; n++ {
		again, err := newEngine(script(), nil).Decide(context.Background(), "Which?", []string{"A", "B", "C"}, panel)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "B", *first.WinningChoice, "tie resolves to the earliest first vote")
}

func TestDecide_RequesterFromContext(t *testing.T) {
	tr := testutil.NewScriptedTransport().On(claude.ID(), vote("A", "r"))
	ctx := core.WithMeta(context.Background(), core.RunMeta{RequesterID: "u1"})

	res, err := newEngine(tr, nil).Decide(ctx, "Which?", []string{"A"}, []core.AgentBinding{claude})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.RequesterID)
}

func TestDecide_RequestShape(t *testing.T) {
	tr := testutil.NewScriptedTransport().On(claude.ID(), vote("A", "r"))

	_, err := newEngine(tr, nil).Decide(context.Background(), "Pick a DB", []string{"Postgres", "MySQL"}, []core.AgentBinding{claude})
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, core.FormatJSON, calls[0].Request.Format)
	assert.Contains(t, calls[0].Request.Prompt, "Pick a DB")
	assert.Contains(t, calls[0].Request.Prompt, `["Postgres", "MySQL"]`)
	assert.NotNil(t, calls[0].Request.Schema)
}

func TestDecide_RecorderFailureIsIgnored(t *testing.T) {
	tr := testutil.NewScriptedTransport().On(claude.ID(), vote("A", "r"))
	rec := &testutil.Recorder{Err: errors.New("disk full")}

	res, err := newEngine(tr, rec).Decide(context.Background(), "Which?", []string{"A"}, []core.AgentBinding{claude})
	require.NoError(t, err)
	assert.True(t, res.Decided())
}

func TestDecide_InvalidInput(t *testing.T) {
	e := newEngine(testutil.NewScriptedTransport(), nil)

	_, err := e.Decide(context.Background(), "", []string{"A"}, panel)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = e.Decide(context.Background(), "q", nil, panel)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = e.Decide(context.Background(), "q", []string{"A"}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = e.Decide(context.Background(), "q", []string{"A"}, []core.AgentBinding{{Provider: "x", Model: "m"}})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestTally(t *testing.T) {
	tests := []struct {
		name    string
		choices []string
		winner  string
		ratio   float64
	}{
		{"unanimous", []string{"A", "A"}, "A", 1},
		{"majority", []string{"B", "A", "A"}, "A", 2.0 / 3.0},
		{"tie keeps earliest first vote", []string{"A", "B", "B", "A"}, "A", 0.5},
		{"case sensitive", []string{"a", "A", "A"}, "A", 2.0 / 3.0},
		{"choice outside options still counts", []string{"Z"}, "Z", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			votes := make([]core.AgentVote, len(tt.choices))
			for i, c := range tt.choices {
				votes[i] = core.AgentVote{AgentID: fmt.Sprintf("a%d", i), Choice: c, Reasoning: c}
			}
			res := Tally("q", []string{"A", "B"}, votes)
			require.NotNil(t, res.WinningChoice)
			assert.Equal(t, tt.winner, *res.WinningChoice)
			assert.InDelta(t, tt.ratio, res.AgreementRatio, 1e-9)
		})
	}
}

func TestParseVote(t *testing.T) {
	v, err := ParseVote(`Sure: {"choice":"A","reasoning":"fast","confidence":0.5}`)
	require.NoError(t, err)
	assert.Equal(t, &core.AgentVote{Choice: "A", Reasoning: "fast", Confidence: 0.5}, v)

	for _, raw := range []string{
		`{"choice":"","reasoning":"r","confidence":0.5}`,
		`{"choice":"A","reasoning":"r","confidence":1.5}`,
		`{"choice":"A","reasoning":"r"}`,
		`no json here`,
	} {
		_, err := ParseVote(raw)
		assert.Error(t, err, raw)
	}
}

func TestDecide_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newEngine(testutil.NewScriptedTransport(), nil).Decide(ctx, "q", []string{"A"}, panel)
	require.NoError(t, err)
	assert.Nil(t, res.WinningChoice)
	require.Len(t, res.Failures, 3)
	assert.Equal(t, core.KindCanceled, res.Failures[0].Kind)
}
