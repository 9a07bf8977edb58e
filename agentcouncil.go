// Package agentcouncil provides a high-level façade over the council's
// orchestration components: the collaborative generation pipeline, consensus
// rounds and role-bound task dispatch. Most applications interact with this
// package by:
//  1. Building an agent registry (usually via config.Config.Registry)
//  2. Creating a Council with New, passing a transport and optional sinks
//  3. Calling RunCollaborativeGeneration, Decide, Dispatch or DispatchBatch
//
// Defaults are safe for local development: records go nowhere unless a
// Recorder is supplied, and History is unavailable without a HistoryReader.
package agentcouncil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/agentcouncil/consensus"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/dispatch"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/pipeline"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/hupe1980/agentcouncil/retry"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit.
const DefaultHistoryLimit = 10

// ErrHistoryUnavailable is returned by History when no HistoryReader is configured.
var ErrHistoryUnavailable = errors.New("agentcouncil: history is not configured")

// Options configures the Council instance.
type Options struct {
	// Recorder receives every pipeline run, consensus result and task record.
	Recorder core.Recorder
	// History answers history queries; typically the same store as Recorder.
	History core.HistoryReader
	// Policy is the resilient call policy shared by all components.
	Policy retry.Policy
	// StageTokens overrides per-stage output token budgets.
	StageTokens map[core.StageName]int64
	// MaxOutputTokens caps consensus votes and dispatched tasks.
	MaxOutputTokens int64
	// Concurrency limits in-flight calls of a consensus round or batch.
	Concurrency int
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Council is the high-level façade aggregating the orchestration components.
type Council struct {
	opts       Options
	registry   *registry.Registry
	pipeline   *pipeline.Executor
	consensus  *consensus.Engine
	dispatcher *dispatch.Dispatcher

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Council resolving roles through reg and calling agents
// through transport.
func New(reg *registry.Registry, transport core.Transport, optFns ...func(o *Options)) (*Council, error) {
	if reg == nil {
		return nil, errors.New("agentcouncil: registry is required")
	}
	if transport == nil {
		return nil, errors.New("agentcouncil: transport is required")
	}

	opts := Options{
		Recorder: core.NopRecorder{},
		Policy:   retry.DefaultPolicy(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Recorder == nil {
		opts.Recorder = core.NopRecorder{}
	}

	return &Council{
		opts:     opts,
		registry: reg,
		pipeline: pipeline.New(reg, transport, func(o *pipeline.Options) {
			o.Logger = opts.Logger
			o.Recorder = opts.Recorder
			o.Policy = opts.Policy
			o.StageTokens = opts.StageTokens
		}),
		consensus: consensus.New(transport, func(o *consensus.Options) {
			o.Logger = opts.Logger
			o.Recorder = opts.Recorder
			o.Policy = opts.Policy
			o.MaxOutputTokens = opts.MaxOutputTokens
			o.Concurrency = opts.Concurrency
		}),
		dispatcher: dispatch.New(reg, transport, func(o *dispatch.Options) {
			o.Logger = opts.Logger
			o.Recorder = opts.Recorder
			o.Policy = opts.Policy
			o.MaxOutputTokens = opts.MaxOutputTokens
			o.Concurrency = opts.Concurrency
		}),
		active: make(map[string]context.CancelFunc),
	}, nil
}

// RunCollaborativeGeneration runs the design, implement, review, revise and
// document pipeline. The run can be stopped with Cancel while in flight.
func (c *Council) RunCollaborativeGeneration(ctx context.Context, in pipeline.Input) (*core.PipelineRun, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if _, dup := c.active[in.ID]; dup {
		c.mu.Unlock()
		return nil, core.InvalidInput("run %q is already active", in.ID)
	}
	c.active[in.ID] = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, in.ID)
		c.mu.Unlock()
	}()

	return c.pipeline.Run(ctx, in)
}

// Cancel stops the in-flight run with the given id. It reports whether such
// a run was active.
func (c *Council) Cancel(runID string) bool {
	c.mu.Lock()
	cancel, ok := c.active[runID]
	c.mu.Unlock()

	if ok {
		c.opts.Logger.Info("Canceling pipeline run", "run_id", runID)
		cancel()
	}
	return ok
}

// ActiveRuns returns the ids of in-flight pipeline runs, sorted.
func (c *Council) ActiveRuns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Decide runs a consensus round. An empty agent set uses the configured panel.
func (c *Council) Decide(ctx context.Context, question string, options []string, agents []core.AgentBinding) (*core.ConsensusResult, error) {
	if len(agents) == 0 {
		agents = c.registry.Panel()
	}
	return c.consensus.Decide(ctx, question, options, agents)
}

// Dispatch sends one task to the agent bound to its role.
func (c *Council) Dispatch(ctx context.Context, req dispatch.TaskRequest) (*core.TaskRecord, error) {
	return c.dispatcher.Dispatch(ctx, req)
}

// DispatchBatch dispatches every request concurrently with per-item isolation.
func (c *Council) DispatchBatch(ctx context.Context, reqs []dispatch.TaskRequest) []dispatch.BatchOutcome {
	return c.dispatcher.DispatchBatch(ctx, reqs)
}

// Models describes the current role assignments.
type Models struct {
	Roles          map[core.Role]core.AgentBinding `json:"model_roles"`
	AvailableTasks []core.Role                     `json:"available_tasks"`
	Default        core.AgentBinding               `json:"default"`
	Panel          []core.AgentBinding             `json:"panel"`
}

// Models returns the binding each role resolves to, including roles served
// by the default binding.
func (c *Council) Models() Models {
	roles := core.Roles()
	m := Models{
		Roles:          make(map[core.Role]core.AgentBinding, len(roles)),
		AvailableTasks: roles,
		Default:        c.registry.Fallback(),
		Panel:          c.registry.Panel(),
	}
	for _, role := range roles {
		m.Roles[role] = c.registry.Lookup(role)
	}
	return m
}

// History returns up to limit pipeline runs of requesterID, newest first.
func (c *Council) History(ctx context.Context, requesterID string, limit int) ([]*core.PipelineRun, error) {
	if c.opts.History == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return c.opts.History.History(ctx, requesterID, limit)
}

// Run returns the recorded pipeline run with id, or nil when none exists.
func (c *Council) Run(ctx context.Context, id string) (*core.PipelineRun, error) {
	if c.opts.History == nil {
		return nil, ErrHistoryUnavailable
	}
	return c.opts.History.GetRun(ctx, id)
}

// Tasks returns up to limit dispatched tasks of requesterID, newest first.
func (c *Council) Tasks(ctx context.Context, requesterID string, limit int) ([]*core.TaskRecord, error) {
	if c.opts.History == nil {
		return nil, ErrHistoryUnavailable
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return c.opts.History.Tasks(ctx, requesterID, limit)
}
