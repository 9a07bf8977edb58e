package store

import (
	"context"
	"errors"

	"github.com/hupe1980/agentcouncil/core"
)

// Tee delivers every record to all of its sinks. A failing sink does not
// stop delivery to the others; their errors are joined.
type Tee []core.Recorder

// NewTee returns a Tee over the non-nil sinks.
func NewTee(sinks ...core.Recorder) Tee {
	t := make(Tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			t = append(t, s)
		}
	}
	return t
}

// Record implements core.Recorder.
func (t Tee) Record(ctx context.Context, rec core.Record) error {
	var errs []error
	for _, s := range t {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
