// Package pacing provides the pauses workers take before each unit of work.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"
)

// Stall blocks for some time or until ctx is done, in which case it returns ctx.Err().
type Stall func(ctx context.Context) error

// NoStall returns immediately.
func NoStall(ctx context.Context) error {
	return ctx.Err()
}

// FixedStall waits exactly d.
func FixedStall(d time.Duration) Stall {
	if d <= 0 {
		return NoStall
	}
	return func(ctx context.Context) error {
		return sleep(ctx, d)
	}
}

// RandomStall waits a uniformly random duration in [lo, hi]. Bounds are
// swapped when given in the wrong order.
func RandomStall(lo, hi time.Duration) Stall {
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return NoStall
	}
	if lo < 0 {
		lo = 0
	}
	span := int64(hi - lo)
	return func(ctx context.Context) error {
		d := lo
		if span > 0 {
			d += time.Duration(rand.Int64N(span + 1))
		}
		return sleep(ctx, d)
	}
}

// FromBounds picks the stall for a worker configuration.
func FromBounds(disabled bool, lo, hi time.Duration) Stall {
	if disabled {
		return NoStall
	}
	return RandomStall(lo, hi)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
