package worker

import (
	"testing"
	"time"
)

func TestExponentialBackoff_MonotonicWithinJitterBounds(t *testing.T) {
	prevMax := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		base := time.Second
		for i := 0; i < attempt; i++ {
			base *= 2
		}
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		minDelay := time.Duration(float64(base) * 0.75)
		maxDelay := time.Duration(float64(base) * 1.25)

		d := ExponentialBackoff(attempt)
		if d < minDelay || d > maxDelay {
			t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, d, minDelay, maxDelay)
		}
		if attempt > 0 && maxDelay < prevMax {
			t.Fatalf("attempt %d: backoff envelope shrank", attempt)
		}
		prevMax = maxDelay
	}
}

func TestExponentialBackoff_CapsAtThirtySeconds(t *testing.T) {
	d := ExponentialBackoff(10)
	if d > 30*time.Second*125/100 {
		t.Fatalf("delay %s exceeds capped envelope", d)
	}
}
