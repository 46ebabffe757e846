package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
)

// ErrRetriesExhausted is matched by errors.Is on the error returned when a throttled call runs out of attempts or wait budget.
var ErrRetriesExhausted = errors.New("repository: retries exhausted")

const (
	DefaultMaxAttempts = 9
	DefaultMaxWait     = 30 * time.Second
)

// RetryPolicy retries calls rejected by the store as throttled, waiting at least as long as the store advertises.
// Any other error is returned on first occurrence.
type RetryPolicy struct {
	// MaxAttempts bounds the number of calls, including the first.
	MaxAttempts int
	// MaxWait bounds the cumulative time spent waiting between attempts.
	MaxWait time.Duration
	// MinDelay is used when the store advertises no delay.
	MinDelay time.Duration
	// Clock drives the default sleep. Nil means the wall clock.
	Clock clock.Clock
	// Sleep replaces the default clock-based wait, e.g. for zero-wait tests. It must honor ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(op string, attempt int, wait time.Duration)
}

// DefaultRetryPolicy returns the policy used when Options.Retry is zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		MaxWait:     DefaultMaxWait,
		MinDelay:    100 * time.Millisecond,
	}
}

// RetryError reports a throttled call that was given up on. It unwraps to both ErrRetriesExhausted and the last store error.
type RetryError struct {
	Op       string
	Attempts int
	Waited   time.Duration
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("repository: %s: retries exhausted after %d attempts (%s waited): %v", e.Op, e.Attempts, e.Waited, e.Last)
}

func (e *RetryError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Last} }

// Do runs fn until it succeeds, fails with a non-throttle error, or the policy's bounds are reached.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	var waited time.Duration
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil || !docstore.IsThrottled(err) {
			return err
		}
		wait := docstore.RetryAfter(err)
		if wait < p.MinDelay {
			wait = p.MinDelay
		}
		if attempt >= maxAttempts || (p.MaxWait > 0 && waited+wait > p.MaxWait) {
			return &RetryError{Op: op, Attempts: attempt, Waited: waited, Last: err}
		}
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, wait)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	t := c.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
