package mailbox

import (
	"math/rand/v2"
	"time"
)

// backoff computes the spec's recovery delay: min(base*2^n, cap) ± 20%
// jitter (spec.md §4.4, Error state). This is a five-line formula, not a
// reusable retry policy, so it stays a local helper rather than pulling in
// a third-party backoff library for it.
func backoffDelay(base, cap_ time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		if d >= cap_/2 {
			d = cap_
			break
		}
		d *= 2
	}
	if d > cap_ {
		d = cap_
	}

	jitter := 0.8 + rand.Float64()*0.4 // [0.8, 1.2)
	return time.Duration(float64(d) * jitter)
}
