// Package background runs owned periodic tasks with an explicit lifecycle.
//
// A Task is idle until Start, running until Stop (or until the context given
// to Start ends) and stopped afterwards. Its state and the outcome of its last
// run are observable, and Stop returns only after the loop has exited.
package background

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/logging"
)

// State is the lifecycle state of a Task.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a running task.
	ErrAlreadyStarted = errors.New("background: task already started")
	// ErrStopped is returned when Start is called on a stopped task.
	ErrStopped = errors.New("background: task stopped")
)

// Func is the work performed on every tick.
type Func func(ctx context.Context) error

// Options configure a Task.
type Options struct {
	Logger logging.Logger
	// RunOnStart executes fn immediately instead of waiting for the first tick.
	RunOnStart bool
}

// Task runs fn every interval.
type Task struct {
	name     string
	interval time.Duration
	fn       Func
	opts     Options

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr error
	runs    int
}

// New creates an idle task. interval must be positive.
func New(name string, interval time.Duration, fn Func, optFns ...func(o *Options)) (*Task, error) {
	if interval <= 0 {
		return nil, errors.New("background: interval must be positive")
	}
	if fn == nil {
		return nil, errors.New("background: fn is required")
	}
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, f := range optFns {
		f(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Task{name: name, interval: interval, fn: fn, opts: opts, state: StateIdle}, nil
}

// Start launches the loop. The loop ends when Stop is called or ctx ends.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.state = StateRunning

	go t.loop(ctx)

	t.opts.Logger.Info("Background task started", "task", t.name, "interval", t.interval)
	return nil
}

func (t *Task) loop(ctx context.Context) {
	defer func() {
		t.mu.Lock()
		t.state = StateStopped
		close(t.done)
		t.mu.Unlock()
		t.opts.Logger.Info("Background task stopped", "task", t.name)
	}()

	if t.opts.RunOnStart {
		t.runOnce(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Task) runOnce(ctx context.Context) {
	err := t.fn(ctx)

	t.mu.Lock()
	t.lastRun = time.Now()
	t.lastErr = err
	t.runs++
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		t.opts.Logger.Warn("Background task run failed", "task", t.name, "error", err.Error())
	}
}

// Stop ends the loop and waits for it to exit. Stopping an idle task marks
// it stopped; stopping twice is a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	switch t.state {
	case StateIdle:
		t.state = StateStopped
		t.mu.Unlock()
		return
	case StateStopped:
		done := t.done
		t.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastRun returns when fn last finished (zero if never).
func (t *Task) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

// LastError returns the error of the last run.
func (t *Task) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Runs returns how many times fn has run.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}
