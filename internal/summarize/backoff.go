package summarize

import (
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry n (1-indexed): base doubled per
// retry, capped at limit, plus up to 50% jitter.
func Backoff(base, limit time.Duration, n uint) time.Duration {
	if base <= 0 {
		return 0
	}
	if n < 1 {
		n = 1
	}
	d := base << min(n-1, 20)
	if limit > 0 && d > limit {
		d = limit
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	return d
}
