// Package registry maps task roles to concrete agent bindings.
//
// A Registry is built once at startup and is read-only afterwards, so it is
// safe to share across any number of concurrent runs without locking.
package registry

import (
	"fmt"
	"sort"

	"github.com/hupe1980/agentcouncil/core"
)

// Registry resolves roles to bindings. Roles without an explicit binding
// resolve to the fallback binding.
type Registry struct {
	bindings map[core.Role]core.AgentBinding
	fallback core.AgentBinding
	panel    []core.AgentBinding
}

// Options configures New.
type Options struct {
	// Panel is the default agent set for consensus rounds.
	Panel []core.AgentBinding
}

// New validates bindings and builds a Registry. Each role may be bound at
// most once. The fallback binding is required.
func New(bindings []core.AgentBinding, fallback core.AgentBinding, optFns ...func(o *Options)) (*Registry, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("fallback binding: %w", err)
	}

	r := &Registry{
		bindings: make(map[core.Role]core.AgentBinding, len(bindings)),
		fallback: fallback,
	}
	for _, b := range bindings {
		if b.Role == "" {
			return nil, fmt.Errorf("binding %s: role is required", b.ID())
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.bindings[b.Role]; dup {
			return nil, fmt.Errorf("role %q bound more than once", b.Role)
		}
		r.bindings[b.Role] = b
	}

	for _, b := range opts.Panel {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("panel: %w", err)
		}
		r.panel = append(r.panel, b)
	}

	return r, nil
}

// Resolve returns the binding for role. When the role has no binding the
// fallback is returned, carrying the requested role, with fellBack=true.
func (r *Registry) Resolve(role core.Role) (binding core.AgentBinding, fellBack bool) {
	if b, ok := r.bindings[role]; ok {
		return b, false
	}
	return r.fallback.WithRole(role), true
}

// Lookup is Resolve without the fallback flag.
func (r *Registry) Lookup(role core.Role) core.AgentBinding {
	b, _ := r.Resolve(role)
	return b
}

// Fallback returns the default binding.
func (r *Registry) Fallback() core.AgentBinding { return r.fallback }

// Bindings returns the explicit bindings ordered by role declaration order.
func (r *Registry) Bindings() []core.AgentBinding {
	order := map[core.Role]int{}
	for i, role := range core.Roles() {
		order[role] = i
	}
	out := make([]core.AgentBinding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Role] < order[out[j].Role] })
	return out
}

// Panel returns a copy of the default consensus agent set. When no panel is
// configured, the distinct bound agents are used in role order.
func (r *Registry) Panel() []core.AgentBinding {
	if len(r.panel) > 0 {
		out := make([]core.AgentBinding, len(r.panel))
		copy(out, r.panel)
		return out
	}
	seen := map[string]bool{}
	var out []core.AgentBinding
	for _, b := range r.Bindings() {
		if seen[b.ID()] {
			continue
		}
		seen[b.ID()] = true
		out = append(out, b)
	}
	if len(out) == 0 {
		out = append(out, r.fallback)
	}
	return out
}
