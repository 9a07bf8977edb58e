package core

import (
	"context"
	"maps"
)

// Transport performs a single remote call to the agent described by binding.
// Implementations are fallible, of variable latency and not assumed idempotent.
type Transport interface {
	Call(ctx context.Context, binding AgentBinding, req CallRequest) (string, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, binding AgentBinding, req CallRequest) (string, error)

// Call implements Transport.
func (f TransportFunc) Call(ctx context.Context, binding AgentBinding, req CallRequest) (string, error) {
	return f(ctx, binding, req)
}

// Recorder is the write-only persistence sink for finished records. Callers
// treat it as best-effort: a Record error is logged, never propagated.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, rec Record) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, rec Record) error { return f(ctx, rec) }

// NopRecorder discards every record.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Record) error { return nil }

// HistoryReader is implemented by sinks that can read back what they recorded.
type HistoryReader interface {
	// History returns up to limit runs of requesterID, newest first.
	History(ctx context.Context, requesterID string, limit int) ([]*PipelineRun, error)
	// GetRun returns the run with id, or nil when it does not exist.
	GetRun(ctx context.Context, id string) (*PipelineRun, error)
	// Tasks returns up to limit dispatched tasks of requesterID, newest first.
	Tasks(ctx context.Context, requesterID string, limit int) ([]*TaskRecord, error)
}

// RunMeta is the run-scoped metadata a caller attaches to an operation.
type RunMeta struct {
	RequesterID string
	Context     map[string]any
}

type metaKey struct{}

// WithMeta returns a context carrying meta.
func WithMeta(ctx context.Context, meta RunMeta) context.Context {
	meta.Context = maps.Clone(meta.Context)
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFrom returns the RunMeta attached to ctx, if any.
func MetaFrom(ctx context.Context) RunMeta {
	meta, _ := ctx.Value(metaKey{}).(RunMeta)
	return meta
}
