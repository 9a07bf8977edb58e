// Package retry implements the resilient call wrapper: bounded retries with
// exponential backoff around any fallible remote operation.
//
// The wrapper is agent-agnostic. It knows nothing about what the wrapped
// function does, only that it may fail and may be slow. By default every
// error is retried; a Classifier can stop retries early for errors that
// cannot succeed on replay.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentcouncil/core"
)

const (
	// DefaultMaxAttempts is the total number of attempts, including the first.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps a single backoff delay.
	DefaultMaxDelay = time.Minute
)

// Classifier reports whether err may succeed if the call is replayed.
type Classifier func(err error) bool

// RetryAll is the blanket classifier: every error is retryable.
func RetryAll(error) bool { return true }

// Policy configures Do.
type Policy struct {
	// MaxAttempts bounds the number of invocations (<= 0 means DefaultMaxAttempts).
	MaxAttempts int
	// BaseDelay is multiplied by 2^i before retry i+1 (< 0 means no delay).
	BaseDelay time.Duration
	// MaxDelay caps each backoff delay (<= 0 means DefaultMaxDelay).
	MaxDelay time.Duration
	// Classifier decides retryability (nil means RetryAll).
	Classifier Classifier
	// Sleep waits between attempts; it must return early with ctx.Err() when
	// ctx ends. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff delay.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the documented defaults: 3 attempts, 1s base delay
// capped at one minute, blanket retry.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the backoff before retry index i (0-based): BaseDelay * 2^i,
// capped at MaxDelay.
func (p Policy) Delay(i int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if i < 0 {
		i = 0
	}
	// The shift must not overflow int64 nanoseconds.
	if i >= 63 || p.BaseDelay > maxDelay>>uint(i) {
		return maxDelay
	}
	return p.BaseDelay << uint(i)
}

func (p Policy) retryable(err error) bool {
	if p.Classifier == nil {
		return true
	}
	return p.Classifier(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do invokes fn until it succeeds, the attempts are exhausted, the classifier
// rejects the error or ctx ends. At most one successful result is ever
// produced: the first success returns immediately.
//
// Failures are reported as *core.CallError: KindRemoteCallExhausted carrying
// the last error's message, or KindCanceled when ctx ended first.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.attempts()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, canceled(attempt, err, lastErr)
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return zero, canceled(attempt+1, ctx.Err(), err)
		}
		if attempt == maxAttempts-1 || !p.retryable(err) {
			return zero, exhausted(attempt+1, err)
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			return zero, canceled(attempt+1, serr, err)
		}
	}

	return zero, exhausted(maxAttempts, lastErr)
}

func exhausted(attempts int, err error) *core.CallError {
	msg := "no attempts made"
	if err != nil {
		msg = err.Error()
	}
	return &core.CallError{Kind: core.KindRemoteCallExhausted, Attempts: attempts, Message: msg, Err: err}
}

func canceled(attempts int, ctxErr, last error) *core.CallError {
	msg := ctxErr.Error()
	if last != nil {
		msg = msg + " (last error: " + last.Error() + ")"
	}
	return &core.CallError{Kind: core.KindCanceled, Attempts: attempts, Message: msg, Err: ctxErr}
}

// ProviderClassifier retries only errors that report themselves as transient
// (rate limits, server errors, timeouts). Errors without that information are
// retried as well.
func ProviderClassifier(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return true
}
