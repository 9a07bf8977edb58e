// Package dispatch runs single role-bound tasks and concurrent batches of them.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/hupe1980/agentcouncil/retry"
)

// TaskRequest is one task to dispatch.
type TaskRequest struct {
	Role        core.Role `json:"task_type"`
	Prompt      string    `json:"prompt"`
	RequesterID string    `json:"user_id"`
}

// BatchOutcome is the result of one batch item. Record is nil only when the
// item was rejected before any call was made.
type BatchOutcome struct {
	Index  int              `json:"task_index"`
	Record *core.TaskRecord `json:"record,omitempty"`
	Status core.TaskStatus  `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Options configure a Dispatcher.
type Options struct {
	Logger          logging.Logger
	Recorder        core.Recorder
	Policy          retry.Policy
	MaxOutputTokens int64
	// Concurrency limits in-flight batch items (<= 0 means unlimited).
	Concurrency int
	Now         func() time.Time
}

// Dispatcher sends tasks to the agent bound to the task's role.
type Dispatcher struct {
	registry  *registry.Registry
	transport core.Transport
	opts      Options
}

// New creates a Dispatcher.
func New(reg *registry.Registry, transport core.Transport, optFns ...func(o *Options)) *Dispatcher {
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
	return &Dispatcher{registry: reg, transport: transport, opts: opts}
}

// Dispatch resolves req.Role, issues one resilient call and records the
// outcome. Roles without a binding use the registry's fallback agent; the
// record reports this through FellBack.
//
// When the call fails the returned record has status failed and the error is
// returned alongside it. Invalid requests return a nil record.
func (d *Dispatcher) Dispatch(ctx context.Context, req TaskRequest) (*core.TaskRecord, error) {
	if req.Role == "" {
		return nil, core.InvalidInput("task role must not be empty")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.InvalidInput("prompt must not be empty")
	}

	binding, fellBack := d.registry.Resolve(req.Role)
	agent := binding.ID()
	if fellBack {
		d.opts.Logger.Warn("Role not bound, using default agent", "role", string(req.Role), "agent", agent)
	}

	rec := &core.TaskRecord{
		ID:          uuid.NewString(),
		Role:        req.Role,
		AgentUsed:   agent,
		FellBack:    fellBack,
		RequesterID: req.RequesterID,
		Prompt:      req.Prompt,
		CreatedAt:   d.opts.Now(),
	}

	call := core.CallRequest{Prompt: req.Prompt, MaxOutputTokens: d.opts.MaxOutputTokens}
	attempt := 0
	result, err := retry.Do(ctx, d.opts.Policy, func(ctx context.Context) (string, error) {
		attempt++
		start := time.Now()
		out, err := d.transport.Call(ctx, binding, call)
		logging.LogAgentCall(d.opts.Logger, agent, attempt, time.Since(start), err)
		return out, err
	})
	if err != nil {
		var ce *core.CallError
		if errors.As(err, &ce) && ce.Agent == "" {
			ce.Agent = agent
		}
		rec.Status = core.TaskFailed
		rec.Error = err.Error()
	} else {
		rec.Status = core.TaskSucceeded
		rec.Result = result
	}

	d.opts.Logger.Info("Task dispatched", "task_id", rec.ID, "role", string(rec.Role), "agent", agent, "status", string(rec.Status))

	if rerr := d.opts.Recorder.Record(context.WithoutCancel(ctx), rec); rerr != nil {
		d.opts.Logger.Warn("Failed to record task", "task_id", rec.ID, "error", rerr.Error())
	}
	return rec, err
}

// DispatchBatch runs every request concurrently. A failing item is reported
// in its own outcome and never affects its siblings. Outcomes are returned in
// request order.
func (d *Dispatcher) DispatchBatch(ctx context.Context, reqs []TaskRequest) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	if d.opts.Concurrency > 0 {
		g.SetLimit(d.opts.Concurrency)
	}
	for i, req := range reqs {
		i, req := i, req // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			rec, err := d.Dispatch(gctx, req)
			out := BatchOutcome{Index: i, Record: rec, Status: core.TaskSucceeded}
			if err != nil {
				out.Status = core.TaskFailed
				out.Error = err.Error()
			}
			outcomes[i] = out
			return nil // failures are isolated per item
		})
	}
	_ = g.Wait()

	return outcomes
}
