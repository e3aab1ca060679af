package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoStall(t *testing.T) {
	require.NoError(t, NoStall(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NoStall(ctx), context.Canceled)
}

func TestRandomStallStaysWithinBounds(t *testing.T) {
	stall := RandomStall(5*time.Millisecond, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		start := time.Now()
		require.NoError(t, stall(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	}
}

func TestRandomStallSwapsBounds(t *testing.T) {
	start := time.Now()
	require.NoError(t, RandomStall(4*time.Millisecond, 2*time.Millisecond)(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}

func TestStallHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := FixedStall(time.Hour)(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFromBounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, FromBounds(true, time.Hour, time.Hour)(ctx), context.Canceled)
	assert.ErrorIs(t, FromBounds(false, 0, 0)(ctx), context.Canceled)
	assert.ErrorIs(t, FromBounds(false, time.Hour, time.Hour)(ctx), context.Canceled)
}
