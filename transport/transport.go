// Package transport routes agent calls to provider model adapters.
//
// A Router implements core.Transport: it resolves the binding's provider to a
// registered Factory, builds (and caches) a model.Model for the binding's
// model identifier and collects the model's single response.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/model"
)

// Factory builds a model for a provider-specific model identifier.
type Factory func(modelID string) (model.Model, error)

// Options configure a Router.
type Options struct {
	Logger logging.Logger
	// Timeout bounds a single call (0 means no per-call timeout).
	Timeout time.Duration
}

// Router is a core.Transport dispatching on AgentBinding.Provider.
type Router struct {
	factories map[core.Provider]Factory
	opts      Options

	mu     sync.Mutex
	models map[string]model.Model
}

// NewRouter creates an empty Router.
func NewRouter(optFns ...func(o *Options)) *Router {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Router{
		factories: make(map[core.Provider]Factory),
		models:    make(map[string]model.Model),
		opts:      opts,
	}
}

// Register installs the factory for provider, replacing any previous one.
func (r *Router) Register(provider core.Provider, f Factory) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
	return r
}

// Providers lists the providers with a registered factory.
func (r *Router) Providers() []core.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Provider
	for _, p := range core.Providers() {
		if _, ok := r.factories[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Call implements core.Transport.
func (r *Router) Call(ctx context.Context, binding core.AgentBinding, req core.CallRequest) (string, error) {
	m, err := r.model(binding)
	if err != nil {
		return "", err
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	return model.Collect(ctx, m, model.Request{
		System:     req.System,
		Prompt:     req.Prompt,
		MaxTokens:  req.Tokens(),
		JSON:       req.Format == core.FormatJSON,
		Schema:     req.Schema,
		SchemaName: req.SchemaName,
	})
}

func (r *Router) model(binding core.AgentBinding) (model.Model, error) {
	key := binding.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[key]; ok {
		return m, nil
	}
	f, ok := r.factories[binding.Provider]
	if !ok {
		return nil, model.NewProviderError(string(binding.Provider), model.CodeInvalidRequest,
			fmt.Sprintf("no transport registered for provider %q", binding.Provider), 0, nil)
	}
	m, err := f(binding.Model)
	if err != nil {
		return nil, fmt.Errorf("build model %s: %w", key, err)
	}
	r.models[key] = m
	r.opts.Logger.Debug("model initialized", "agent", key)
	return m, nil
}
