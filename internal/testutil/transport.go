package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/agentcouncil/core"
)

// Reply is one scripted outcome of a call.
type Reply struct {
	Text string
	Err  error
}

// OK is a successful reply.
func OK(text string) Reply { return Reply{Text: text} }

// Fail is a failed reply.
func Fail(err error) Reply { return Reply{Err: err} }

// ErrUnscripted is returned for calls with no remaining scripted reply.
var ErrUnscripted = errors.New("testutil: no scripted reply")

// Call is a call observed by ScriptedTransport.
type Call struct {
	Binding core.AgentBinding
	Request core.CallRequest
}

// ScriptedTransport is a core.Transport returning queued replies per agent
// (keyed by AgentBinding.ID). When a queue holds a single reply left it is
// repeated. A Handler, when set, takes precedence over the queues.
type ScriptedTransport struct {
	// Handler optionally computes replies dynamically.
	Handler func(ctx context.Context, binding core.AgentBinding, req core.CallRequest) (string, error)

	mu      sync.Mutex
	queues  map[string][]Reply
	byRole  map[core.Role][]Reply
	calls   []Call
	counter map[string]int
}

// NewScriptedTransport returns an empty ScriptedTransport.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{
		queues:  make(map[string][]Reply),
		byRole:  make(map[core.Role][]Reply),
		counter: make(map[string]int),
	}
}

// On queues replies for the agent with the given ID ("provider/model").
func (s *ScriptedTransport) On(agentID string, replies ...Reply) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[agentID] = append(s.queues[agentID], replies...)
	return s
}

// OnRole queues replies for calls whose binding carries role. Role queues
// are consulted before agent queues.
func (s *ScriptedTransport) OnRole(role core.Role, replies ...Reply) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRole[role] = append(s.byRole[role], replies...)
	return s
}

// Call implements core.Transport.
func (s *ScriptedTransport) Call(ctx context.Context, binding core.AgentBinding, req core.CallRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Binding: binding, Request: req})
	s.counter[binding.ID()]++
	handler := s.Handler
	reply, ok := s.next(binding)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if handler != nil {
		return handler(ctx, binding, req)
	}
	if !ok {
		return "", ErrUnscripted
	}
	return reply.Text, reply.Err
}

func (s *ScriptedTransport) next(binding core.AgentBinding) (Reply, bool) {
	if binding.Role != "" {
		if r, ok := pop(s.byRole, binding.Role); ok {
			return r, true
		}
	}
	return pop(s.queues, binding.ID())
}

func pop[K comparable](m map[K][]Reply, key K) (Reply, bool) {
	q := m[key]
	switch len(q) {
	case 0:
		return Reply{}, false
	case 1:
		return q[0], true
	default:
		m[key] = q[1:]
		return q[0], true
	}
}

// Calls returns every observed call in arrival order.
func (s *ScriptedTransport) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns the number of calls made to agentID.
func (s *ScriptedTransport) CallCount(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter[agentID]
}

// TotalCalls returns the number of calls across all agents.
func (s *ScriptedTransport) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
