package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentcouncil/core"
)

// Recorder is a core.Recorder that keeps every record in memory. Err, when
// set, is returned from Record after the record has been captured.
type Recorder struct {
	Err error

	mu      sync.Mutex
	records []core.Record
}

// Record implements core.Recorder.
func (r *Recorder) Record(_ context.Context, rec core.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.Err
}

// Records returns the captured records in order.
func (r *Recorder) Records() []core.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Record(nil), r.records...)
}

// Runs returns the captured pipeline runs.
func (r *Recorder) Runs() []*core.PipelineRun { return recordsOf[*core.PipelineRun](r) }

// Consensus returns the captured consensus results.
func (r *Recorder) Consensus() []*core.ConsensusResult { return recordsOf[*core.ConsensusResult](r) }

// Tasks returns the captured task records.
func (r *Recorder) Tasks() []*core.TaskRecord { return recordsOf[*core.TaskRecord](r) }

func recordsOf[T core.Record](r *Recorder) []T {
	var out []T
	for _, rec := range r.Records() {
		if v, ok := rec.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
