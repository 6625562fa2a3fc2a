package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flaky struct{ transient bool }

func (f flaky) Error() string   { return "flaky" }
func (f flaky) Transient() bool { return f.transient }

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestPolicy_ShouldRetry(t *testing.T) {
	p := New(3, 10*time.Millisecond, time.Second)

	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(errors.New("boom"), 1))
	assert.False(t, p.ShouldRetry(errors.New("boom"), 3), "budget spent")
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.True(t, p.ShouldRetry(flaky{transient: true}, 1))
	assert.False(t, p.ShouldRetry(flaky{transient: false}, 1))
	assert.True(t, p.ShouldRetry(timeoutErr{timeout: true}, 1))
	assert.False(t, p.ShouldRetry(timeoutErr{timeout: false}, 1))
	assert.True(t, p.ShouldRetry(fmtWrap(flaky{transient: true}), 2))
}

func fmtWrap(err error) error { return errors.Join(errors.New("wrapped"), err) }

func TestPolicy_BackoffBounds(t *testing.T) {
	p := New(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
	assert.Zero(t, New(3, 0, 0).Backoff(1))
}

func TestPolicy_DoRetriesUntilSuccess(t *testing.T) {
	var retried []int
	p := New(4, time.Millisecond, time.Millisecond).WithSleep(noSleep)
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return flaky{transient: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestPolicy_DoStopsOnPermanentError(t *testing.T) {
	p := New(4, time.Millisecond, time.Millisecond).WithSleep(noSleep)
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return flaky{transient: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPolicy_DoExhaustsBudget(t *testing.T) {
	p := New(3, time.Millisecond, time.Millisecond).WithSleep(noSleep)
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return flaky{transient: true}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPolicy_DoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(5, time.Hour, time.Hour)
	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return flaky{transient: true}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
