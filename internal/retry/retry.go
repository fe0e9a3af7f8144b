// Package retry wraps remote calls with bounded exponential backoff on throttling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/yairfalse/tagsweep/internal/cloud"
)

// ErrRetriesExhausted matches every *RetriesExhaustedError.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetriesExhaustedError is returned when every attempt was throttled.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// Is matches ErrRetriesExhausted.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 20 * time.Second
)

// Policy configures retry behavior.
//
// The delay before retry n (n >= 1) is d = min(BaseDelay*2^(n-1), MaxDelay),
// and the actual sleep uses equal jitter: d/2 + uniform[0, d/2].
type Policy struct {
	// MaxAttempts counts every attempt, including the first. Default: 5
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable decides which errors are retried. Default: cloud.IsThrottled
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep and Rand are swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = cloud.IsThrottled
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	return p
}

// Validate checks the policy is usable as configured.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry: max_attempts must be >= 0 (got %d)", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("retry: base_delay %s exceeds max_delay %s", p.BaseDelay, p.MaxDelay)
	}
	return nil
}

// Backoff returns the capped delay before retry n, without jitter.
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Delay returns the jittered sleep before retry n.
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := p.Backoff(n)
	half := d / 2
	return half + time.Duration(p.Rand()*float64(d-half))
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Non-retryable errors are returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !p.Retryable(err) {
			return zero, err
		}
		last = err

		// Don't wait after the last attempt
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := p.Sleep(ctx, delay); serr != nil {
			return zero, errors.Join(serr, last)
		}
	}

	return zero, &RetriesExhaustedError{Attempts: p.MaxAttempts, Last: last}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
