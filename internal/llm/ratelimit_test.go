package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Reserve(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(60)
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	for i := 0; i < 60; i++ {
		require.Zero(t, rl.reserve(), "token %d", i)
	}

	delay := rl.reserve()
	assert.InDelta(t, float64(time.Second), float64(delay), float64(10*time.Millisecond))

	now = now.Add(2 * time.Second)
	assert.Zero(t, rl.reserve())
	assert.Zero(t, rl.reserve())
	assert.NotZero(t, rl.reserve())
}

func TestRateLimiter_ContextCancellation(t *testing.T) {
	rl := newRateLimiter(1)
	require.NoError(t, rl.wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithRateLimit(t *testing.T) {
	stub := &stubCompleter{content: "ok"}
	c := WithRateLimit(stub, 600)

	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), "p", Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, stub.calls())
}
