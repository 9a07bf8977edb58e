package consensus

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/jsonx"
	"github.com/hupe1980/agentcouncil/internal/prompt"
	"github.com/hupe1980/agentcouncil/internal/schema"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/retry"
)

// Vote is the structured answer an agent returns.
type Vote struct {
	Choice     string  `json:"choice" description:"exactly one of the offered options"`
	Reasoning  string  `json:"reasoning" description:"why this option is the best"`
	Confidence float64 `json:"confidence" description:"confidence between 0.0 and 1.0"`
}

var voteSchema = schema.For(Vote{})

var votePrompt = prompt.Must("vote", `
{{.question}}

Options: {{quote .options}}

Choose the best option and explain why. Answer in JSON:
{"choice": "...", "reasoning": "...", "confidence": 0.0-1.0}
`)

// Options configure an Engine.
type Options struct {
	Logger   logging.Logger
	Recorder core.Recorder
	Policy   retry.Policy
	// MaxOutputTokens caps each vote (0 means core.DefaultMaxOutputTokens).
	MaxOutputTokens int64
	// Concurrency limits in-flight agent calls (<= 0 means one per agent).
	Concurrency int
}

// Engine runs consensus rounds.
type Engine struct {
	transport core.Transport
	opts      Options
}

// New creates an Engine calling agents through transport.
func New(transport core.Transport, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Recorder: core.NopRecorder{},
		Policy:   retry.DefaultPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Recorder == nil {
		opts.Recorder = core.NopRecorder{}
	}
	return &Engine{transport: transport, opts: opts}
}

// outcome is the per-agent slot filled by the fan-out.
type outcome struct {
	vote *core.AgentVote
	fail *core.AgentFailure
}

// Decide asks every agent in agents to pick one of options and aggregates
// the votes. Agent failures never fail the round; an error is returned only
// for invalid input. A round without valid votes yields a result with a nil
// WinningChoice and a zero agreement ratio.
func (e *Engine) Decide(ctx context.Context, question string, options []string, agents []core.AgentBinding) (*core.ConsensusResult, error) {
	if err := validate(question, options, agents); err != nil {
		return nil, err
	}

	text, err := votePrompt.Render(map[string]any{"question": question, "options": options})
	if err != nil {
		return nil, err
	}
	req := core.CallRequest{
		Prompt:          text,
		MaxOutputTokens: e.opts.MaxOutputTokens,
		Format:          core.FormatJSON,
		Schema:          voteSchema,
		SchemaName:      "vote",
	}

	outcomes := make([]outcome, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	if e.opts.Concurrency > 0 {
		g.SetLimit(e.opts.Concurrency)
	}
	for i, agent := range agents {
		i, agent := i, agent // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			outcomes[i] = e.ask(gctx, agent, req)
			return nil // failures are isolated per agent
		})
	}
	_ = g.Wait()

	res := Tally(question, options, validVotes(outcomes))
	res.RequesterID = core.MetaFrom(ctx).RequesterID
	for _, o := range outcomes {
		if o.fail != nil {
			res.Failures = append(res.Failures, *o.fail)
		}
	}

	winner := ""
	if res.WinningChoice != nil {
		winner = *res.WinningChoice
	}
	logging.LogConsensus(e.opts.Logger, len(agents), len(res.RawVotes), winner, res.AgreementRatio)

	if err := e.opts.Recorder.Record(context.WithoutCancel(ctx), res); err != nil {
		e.opts.Logger.Warn("Failed to record consensus result", "error", err.Error())
	}
	return res, nil
}

func (e *Engine) ask(ctx context.Context, agent core.AgentBinding, req core.CallRequest) outcome {
	id := agent.ID()
	attempt := 0

	raw, err := retry.Do(ctx, e.opts.Policy, func(ctx context.Context) (string, error) {
		attempt++
		start := time.Now()
		out, err := e.transport.Call(ctx, agent, req)
		logging.LogAgentCall(e.opts.Logger, id, attempt, time.Since(start), err)
		return out, err
	})
	if err != nil {
		return failed(id, err)
	}

	vote, err := ParseVote(raw)
	if err != nil {
		return failed(id, core.NewParseError(id, err))
	}
	vote.AgentID = id
	return outcome{vote: vote}
}

func failed(agentID string, err error) outcome {
	return outcome{fail: &core.AgentFailure{AgentID: agentID, Kind: core.KindOf(err), Error: err.Error()}}
}

func validVotes(outcomes []outcome) []core.AgentVote {
	votes := make([]core.AgentVote, 0, len(outcomes))
	for _, o := range outcomes {
		if o.vote != nil {
			votes = append(votes, *o.vote)
		}
	}
	return votes
}

// ParseVote extracts a vote from an agent response. A vote needs a non-empty
// choice and a confidence within [0, 1].
func ParseVote(raw string) (*core.AgentVote, error) {
	var v Vote
	if _, err := jsonx.Decode(raw, &v); err != nil {
		return nil, err
	}
	if v.Choice == "" {
		return nil, fmt.Errorf("vote has an empty choice")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", v.Confidence)
	}
	return &core.AgentVote{Choice: v.Choice, Reasoning: v.Reasoning, Confidence: v.Confidence}, nil
}

// Tally aggregates votes, which must be in agent-set order. It is a pure
// function: the same votes always produce the same result.
func Tally(question string, options []string, votes []core.AgentVote) *core.ConsensusResult {
	res := &core.ConsensusResult{
		Question:            question,
		Options:             append([]string(nil), options...),
		SupportingReasoning: []string{},
		RawVotes:            append([]core.AgentVote{}, votes...),
	}
	if len(votes) == 0 {
		res.Error = core.ErrNoValidVotes.Message
		return res
	}

	counts := make(map[string]int, len(votes))
	var order []string
	for _, v := range votes {
		if counts[v.Choice] == 0 {
			order = append(order, v.Choice)
		}
		counts[v.Choice]++
	}

	winner, best := "", 0
	for _, choice := range order {
		if counts[choice] > best {
			winner, best = choice, counts[choice]
		}
	}

	for _, v := range votes {
		if v.Choice == winner {
			res.SupportingReasoning = append(res.SupportingReasoning, v.Reasoning)
		}
	}
	res.WinningChoice = &winner
	res.AgreementRatio = float64(best) / float64(len(votes))
	return res
}

func validate(question string, options []string, agents []core.AgentBinding) error {
	if question == "" {
		return core.InvalidInput("question must not be empty")
	}
	if len(options) == 0 {
		return core.InvalidInput("at least one option is required")
	}
	if len(agents) == 0 {
		return core.InvalidInput("at least one agent is required")
	}
	for _, a := range agents {
		if err := a.Validate(); err != nil {
			return core.InvalidInput("agent %s: %v", a.ID(), err)
		}
	}
	return nil
}
