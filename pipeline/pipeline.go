// Package pipeline runs the collaborative generation pipeline:
// design -> implement -> review -> (revise) -> document.
//
// Each stage is one resilient call to the agent bound to the stage's role.
// Stages run strictly in sequence and every stage consumes the previous
// stage's parsed output. A failed stage ends the run, except revise: when
// revising fails the run keeps the pre-revision content and still documents it.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/jsonx"
	"github.com/hupe1980/agentcouncil/internal/prompt"
	"github.com/hupe1980/agentcouncil/internal/schema"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/hupe1980/agentcouncil/retry"
)

// errEmptyResponse marks a text stage whose agent answered with nothing.
var errEmptyResponse = errors.New("empty response")

// DefaultStageTokens are the output caps used when Options.StageTokens has no entry.
var DefaultStageTokens = map[core.StageName]int64{
	core.StageDesign:    4000,
	core.StageImplement: 4000,
	core.StageReview:    2000,
	core.StageRevise:    4000,
	core.StageDocument:  2000,
}

var (
	designSchema = schema.For(Design{})
	reviewSchema = schema.For(Review{})
)

// Options configure an Executor.
type Options struct {
	Logger      logging.Logger
	Recorder    core.Recorder
	Policy      retry.Policy
	StageTokens map[core.StageName]int64
	// Now returns the current time (tests pin it).
	Now func() time.Time
}

// Input describes one pipeline run.
type Input struct {
	// ID identifies the run; a UUID is generated when empty.
	ID          string
	Prompt      string
	RequesterID string
	Context     map[string]any
}

// Executor runs pipelines against the agents of a registry.
type Executor struct {
	registry  *registry.Registry
	transport core.Transport
	opts      Options
}

// New creates an Executor.
func New(reg *registry.Registry, transport core.Transport, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Recorder: core.NopRecorder{},
		Policy:   retry.DefaultPolicy(),
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Recorder == nil {
		opts.Recorder = core.NopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{registry: reg, transport: transport, opts: opts}
}

// Run executes the pipeline. Stage failures never surface as an error: they
// are reported through the returned run's Status, Error and Stages. An error
// is returned only when the input is rejected before any stage starts.
//
// The run is handed to the Recorder whether it succeeded or failed.
func (e *Executor) Run(ctx context.Context, in Input) (*core.PipelineRun, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, core.InvalidInput("prompt must not be empty")
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	run := &core.PipelineRun{
		ID:          id,
		RequesterID: in.RequesterID,
		Prompt:      in.Prompt,
		Context:     in.Context,
		Stages:      []core.StageResult{},
		Status:      core.RunRunning,
		StartedAt:   e.opts.Now(),
	}
	log := logging.ForRun(e.opts.Logger, run.ID)
	log.Info("Pipeline run started", "requester_id", run.RequesterID)

	x := &execution{Executor: e, run: run, log: log}
	if err := x.execute(ctx); err != nil {
		run.Status = core.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = core.RunSucceeded
	}
	run.CompletedAt = e.opts.Now()

	log.Info("Pipeline run finished", "status", string(run.Status),
		"stages", len(run.Stages), "duration", run.CompletedAt.Sub(run.StartedAt))

	if err := e.opts.Recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record pipeline run", "error", err.Error())
	}
	return run, nil
}

// execution is one pipeline run in progress.
type execution struct {
	*Executor
	run *core.PipelineRun
	log logging.Logger
}

func (x *execution) execute(ctx context.Context) error {
	run := x.run
	var design Design
	designRaw, err := x.stage(ctx, core.StageDesign, core.RoleArchitect, designPrompt, map[string]any{
		"prompt":  run.Prompt,
		"context": run.Context,
	}, "", structured(&design, designSchema, "design"))
	if err != nil {
		return err
	}
	run.Artifacts.Design = json.RawMessage(designRaw)

	content, err := x.stage(ctx, core.StageImplement, core.RoleCoder, implementPrompt, map[string]any{
		"design": run.Artifacts.Design,
		"prompt": run.Prompt,
	}, implementSystem, plainText)
	if err != nil {
		return err
	}
	run.Artifacts.Content = content

	var review Review
	reviewRaw, err := x.stage(ctx, core.StageReview, core.RoleReviewer, reviewPrompt, map[string]any{
		"content": content,
	}, "", structured(&review, reviewSchema, "review"))
	if err != nil {
		return err
	}
	run.Artifacts.Review = json.RawMessage(reviewRaw)

	if len(review.Issues) > 0 {
		revised, err := x.stage(ctx, core.StageRevise, core.RoleCoder, revisePrompt, map[string]any{
			"issues":  review.Issues,
			"content": content,
		}, implementSystem, plainText)
		if err == nil {
			content = revised
			run.Artifacts.Content = revised
			run.Artifacts.Revised = true
		} else {
			x.log.Warn("Revise stage failed, keeping pre-revision content", "error", err.Error())
		}
	}

	docs, err := x.stage(ctx, core.StageDocument, core.RoleExplainer, documentPrompt, map[string]any{
		"design":  run.Artifacts.Design,
		"content": content,
	}, "", plainText)
	if err != nil {
		return err
	}
	run.Artifacts.Documentation = docs
	return nil
}

// parser turns a raw agent response into the stage output, plus the request
// settings the stage needs.
type parser struct {
	format     core.ResponseFormat
	schema     map[string]any
	schemaName string
	parse      func(raw string) (string, error)
}

var plainText = parser{
	format: core.FormatText,
	parse: func(raw string) (string, error) {
		if strings.TrimSpace(raw) == "" {
			return "", errEmptyResponse
		}
		return raw, nil
	},
}

func structured(out any, s map[string]any, name string) parser {
	return parser{
		format:     core.FormatJSON,
		schema:     s,
		schemaName: name,
		parse: func(raw string) (string, error) {
			obj, err := jsonx.Decode(raw, out)
			if err != nil {
				return "", err
			}
			return string(obj), nil
		},
	}
}

// stage runs one stage and appends its StageResult to the run.
func (x *execution) stage(
	ctx context.Context,
	name core.StageName,
	role core.Role,
	tmpl *prompt.Template,
	data map[string]any,
	system string,
	p parser,
) (string, error) {
	binding, fellBack := x.registry.Resolve(role)
	agent := binding.ID()
	if fellBack {
		x.log.Warn("Role not bound, using default agent", "role", string(role), "agent", agent)
	}

	start := x.opts.Now()
	result := core.StageResult{Stage: name, Agent: agent, StartedAt: start}

	output, err := x.call(ctx, name, binding, tmpl, data, system, p, &result)

	result.Duration = x.opts.Now().Sub(start)
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = core.KindOf(err)
	} else {
		result.Succeeded = true
		result.Output = output
	}
	x.run.Stages = append(x.run.Stages, result)

	logging.LogStage(x.log, string(name), agent, result.Duration, err)
	return output, err
}

func (x *execution) call(
	ctx context.Context,
	name core.StageName,
	binding core.AgentBinding,
	tmpl *prompt.Template,
	data map[string]any,
	system string,
	p parser,
	result *core.StageResult,
) (string, error) {
	text, err := tmpl.Render(data)
	if err != nil {
		return "", core.InvalidInput("%v", err)
	}
	result.InputDigest = digest(system, text)

	req := core.CallRequest{
		Prompt:          text,
		System:          system,
		MaxOutputTokens: x.tokens(name),
		Format:          p.format,
		Schema:          p.schema,
		SchemaName:      p.schemaName,
	}

	agent := binding.ID()
	attempt := 0
	raw, err := retry.Do(ctx, x.opts.Policy, func(ctx context.Context) (string, error) {
		attempt++
		start := time.Now()
		out, err := x.transport.Call(ctx, binding, req)
		logging.LogAgentCall(x.log, agent, attempt, time.Since(start), err)
		return out, err
	})
	if err != nil {
		var ce *core.CallError
		if errors.As(err, &ce) && ce.Agent == "" {
			ce.Agent = agent
		}
		return "", err
	}

	output, err := p.parse(raw)
	if err != nil {
		return "", core.NewParseError(agent, err)
	}
	return output, nil
}

func (e *Executor) tokens(name core.StageName) int64 {
	if n, ok := e.opts.StageTokens[name]; ok && n > 0 {
		return n
	}
	return DefaultStageTokens[name]
}

// digest fingerprints the stage input (system instructions and prompt).
func digest(system, userPrompt string) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(userPrompt))
	return hex.EncodeToString(h.Sum(nil))
}
