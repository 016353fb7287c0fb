package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("openai-main", 5, time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.NoError(t, b.Allow(), "circuit must stay closed below the threshold")
	}

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("openai-main", 5, time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.RecordSuccess()

	assert.NoError(t, b.Allow())
	assert.Equal(t, 0, b.Stats().Failures)
	assert.False(t, b.Stats().Open)
}

func TestBreaker_CooldownExpiryAllowsCalls(t *testing.T) {
	b := NewBreaker("anthropic-main", 2, 30*time.Second)

	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	now = now.Add(31 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreaker_ExecuteRecordsOutcomes(t *testing.T) {
	b := NewBreaker("openai-main", 2, time.Minute)

	boom := errors.New("status 500")
	err := b.Execute(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, b.Stats().Failures)

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, b.Stats().Failures)
}

func TestBreaker_ExecuteFailsFastWhenOpen(t *testing.T) {
	b := NewBreaker("openai-main", 1, time.Minute)
	b.RecordFailure()

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_CancellationNotCountedAsFailure(t *testing.T) {
	b := NewBreaker("openai-main", 2, time.Minute)

	err := b.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Stats().Failures)
}

func TestBreakerRegistry_SharesInstancePerProvider(t *testing.T) {
	reg := NewBreakerRegistry(5, time.Minute)

	a := reg.Get("openai-main")
	b := reg.Get("openai-main")
	other := reg.Get("anthropic-main")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
}

func TestBreakerRegistry_OpenProviders(t *testing.T) {
	reg := NewBreakerRegistry(1, time.Minute)

	reg.Get("healthy")
	reg.Get("broken").RecordFailure()

	assert.Equal(t, []string{"broken"}, reg.OpenProviders())
}
