package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tagsweep/internal/cloud"
)

var errThrottle = cloud.NewError(cloud.ErrThrottled, "DescribeTargetHealth", errors.New("Throttling: Rate exceeded"))

// fakeClock records sleeps instead of waiting.
type fakeClock struct {
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return nil
}

func testPolicy(clock *fakeClock, attempts int, base, max time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Sleep:       clock.Sleep,
		Rand:        func() float64 { return 0.5 },
	}
}

// throttleThen fails with throttling n times, then returns v.
func throttleThen(n int, v string, calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= n {
			return "", errThrottle
		}
		return v, nil
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	clock := &fakeClock{}
	calls := 0

	v, err := Do(context.Background(), testPolicy(clock, 5, time.Second, 8*time.Second), throttleThen(0, "ok", &calls))

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
}

func TestDo_ThrottlesThenSuccess(t *testing.T) {
	clock := &fakeClock{}
	calls := 0
	const n = 4

	v, err := Do(context.Background(), testPolicy(clock, n+1, time.Second, 8*time.Second), throttleThen(n, "ok", &calls))

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, n+1, calls)
	require.Len(t, clock.sleeps, n)
	for i := 1; i < len(clock.sleeps); i++ {
		assert.GreaterOrEqual(t, clock.sleeps[i], clock.sleeps[i-1], "sleep %d decreased", i)
	}
}

func TestDo_DelaysNonDecreasingUpToCap(t *testing.T) {
	clock := &fakeClock{}
	calls := 0
	p := testPolicy(clock, 10, time.Second, 8*time.Second)
	p.Rand = func() float64 { return 0 }

	_, err := Do(context.Background(), p, throttleThen(9, "ok", &calls))

	require.NoError(t, err)
	expected := []time.Duration{
		500 * time.Millisecond, // 1s/2
		1 * time.Second,        // 2s/2
		2 * time.Second,        // 4s/2
		4 * time.Second,        // 8s/2
		4 * time.Second,        // capped
		4 * time.Second,
		4 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}
	assert.Equal(t, expected, clock.sleeps)
}

func TestDo_ExhaustsAfterExactlyMaxAttempts(t *testing.T) {
	clock := &fakeClock{}
	calls := 0

	_, err := Do(context.Background(), testPolicy(clock, 3, time.Second, 8*time.Second), throttleThen(100, "never", &calls))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, clock.sleeps, 2, "no sleep after the final attempt")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, cloud.ErrThrottled, "wraps the last error")

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, errThrottle, exhausted.Last)
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	clock := &fakeClock{}
	calls := 0
	permanent := cloud.NewError(cloud.ErrPermanent, "DeleteVolume", errors.New("AccessDenied"))

	_, err := Do(context.Background(), testPolicy(clock, 5, time.Second, 8*time.Second), func(context.Context) (string, error) {
		calls++
		return "", permanent
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
	assert.Same(t, permanent, err, "non-retryable error returned unchanged")
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestDo_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	notFound := cloud.NewError(cloud.ErrNotFound, "DescribeTargetHealth", errors.New("TargetGroupNotFound"))

	_, err := Do(context.Background(), testPolicy(&fakeClock{}, 5, time.Second, time.Second), func(context.Context) (int, error) {
		calls++
		return 0, notFound
	})

	assert.Equal(t, 1, calls)
	assert.True(t, cloud.IsNotFound(err))
}

func TestDo_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
	}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, throttleThen(100, "never", &calls))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, cloud.ErrThrottled)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	assert.Equal(t, 1, calls, "no new attempts after cancellation")
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	calls := 0
	p := testPolicy(&fakeClock{}, 5, time.Second, 8*time.Second)
	p.OnRetry = func(attempt int, _ time.Duration, err error) {
		attempts = append(attempts, attempt)
		assert.True(t, cloud.IsThrottled(err))
	}

	_, err := Do(context.Background(), p, throttleThen(2, "ok", &calls))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_CustomRetryable(t *testing.T) {
	calls := 0
	transient := errors.New("transient")
	p := testPolicy(&fakeClock{}, 3, time.Millisecond, time.Millisecond)
	p.Retryable = func(err error) bool { return errors.Is(err, transient) }

	err := Run(context.Background(), p, func(context.Context) error {
		calls++
		return transient
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestDelay_EqualJitterBounds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 8 * time.Second, Rand: r.Float64}

	for n := 1; n <= 6; n++ {
		d := p.Backoff(n)
		for i := 0; i < 100; i++ {
			got := p.Delay(n)
			assert.GreaterOrEqual(t, got, d/2)
			assert.LessOrEqual(t, got, d)
		}
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 8 * time.Second}

	assert.Equal(t, 1*time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 8*time.Second, p.Backoff(5))
	assert.Equal(t, 8*time.Second, p.Backoff(60), "no overflow on large attempts")
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	require.NoError(t, p.Validate())
}

func TestValidate(t *testing.T) {
	assert.Error(t, Policy{MaxAttempts: -1}.Validate())
	assert.Error(t, Policy{BaseDelay: 10 * time.Second, MaxDelay: time.Second}.Validate())
	assert.NoError(t, Policy{}.Validate())
}

func TestRetriesExhaustedError_Message(t *testing.T) {
	err := &RetriesExhaustedError{Attempts: 3, Last: errors.New("Throttling: Rate exceeded")}
	assert.Equal(t, "retries exhausted after 3 attempts: Throttling: Rate exceeded", err.Error())
}
