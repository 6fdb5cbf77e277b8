package helpers

import (
	"context"
	"math/rand"
	"time"
)

// Backoff returns the pause before retry number attempt (0-based): base
// doubled per attempt, capped, with ±25% jitter so concurrent callers spread
// out.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}

// SleepCtx pauses for d unless ctx ends first; returns ctx.Err() in that
// case so retry loops stop promptly.
func SleepCtx(ctx context.Context, d time.Duration) error {
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
