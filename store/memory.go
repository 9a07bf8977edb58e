package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/core"
)

// Memory is a volatile store keeping records in process memory. It is safe
// for concurrent access and best suited for tests or ephemeral servers.
// Records are copied on the way in and out so callers cannot mutate stored
// state.
type Memory struct {
	mu        sync.RWMutex
	runs      []*core.PipelineRun
	consensus []stamped[*core.ConsensusResult]
	tasks     []*core.TaskRecord
	now       func() time.Time
}

type stamped[T any] struct {
	at  time.Time
	rec T
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Record implements core.Recorder.
func (m *Memory) Record(_ context.Context, rec core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r := rec.(type) {
	case *core.PipelineRun:
		cp := cloneRun(r)
		if i := slices.IndexFunc(m.runs, func(x *core.PipelineRun) bool { return x.ID == r.ID }); i >= 0 {
			m.runs[i] = cp
			return nil
		}
		m.runs = append(m.runs, cp)
	case *core.ConsensusResult:
		cp := *r
		cp.RawVotes = slices.Clone(r.RawVotes)
		cp.SupportingReasoning = slices.Clone(r.SupportingReasoning)
		m.consensus = append(m.consensus, stamped[*core.ConsensusResult]{at: m.now(), rec: &cp})
	case *core.TaskRecord:
		cp := *r
		m.tasks = append(m.tasks, &cp)
	default:
		return fmt.Errorf("store: unsupported record kind %q", rec.RecordKind())
	}
	return nil
}

// History implements core.HistoryReader.
func (m *Memory) History(_ context.Context, requesterID string, limit int) ([]*core.PipelineRun, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*core.PipelineRun{}
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].RequesterID == requesterID {
			out = append(out, cloneRun(m.runs[i]))
		}
	}
	// newest first; insertion order breaks ties
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetRun implements core.HistoryReader.
func (m *Memory) GetRun(_ context.Context, id string) (*core.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.ID == id {
			return cloneRun(r), nil
		}
	}
	return nil, nil
}

// Tasks implements core.HistoryReader.
func (m *Memory) Tasks(_ context.Context, requesterID string, limit int) ([]*core.TaskRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*core.TaskRecord{}
	for i := len(m.tasks) - 1; i >= 0 && len(out) < limit; i-- {
		if m.tasks[i].RequesterID == requesterID {
			cp := *m.tasks[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ConsensusCount returns the number of stored consensus results.
func (m *Memory) ConsensusCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consensus)
}

// Prune deletes every record created before cutoff.
func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.runs) + len(m.consensus) + len(m.tasks)
	m.runs = slices.DeleteFunc(m.runs, func(r *core.PipelineRun) bool { return r.StartedAt.Before(cutoff) })
	m.consensus = slices.DeleteFunc(m.consensus, func(s stamped[*core.ConsensusResult]) bool { return s.at.Before(cutoff) })
	m.tasks = slices.DeleteFunc(m.tasks, func(t *core.TaskRecord) bool { return t.CreatedAt.Before(cutoff) })
	return int64(before - len(m.runs) - len(m.consensus) - len(m.tasks)), nil
}

func cloneRun(r *core.PipelineRun) *core.PipelineRun {
	cp := *r
	cp.Stages = slices.Clone(r.Stages)
	cp.Context = maps.Clone(r.Context)
	return &cp
}
