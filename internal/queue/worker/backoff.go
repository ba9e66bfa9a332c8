package worker

import (
	"math"
	"math/rand"
	"time"
)

// RetryBackoff is the delay before a failed job becomes claimable
// again, written into the job's not_before column so the schedule is a
// first-class value rather than an accident of invocation frequency.
func RetryBackoff(retryCount int) time.Duration {
	base := 2 * time.Second

	capDelay := 5 * time.Minute
	// retryCount=0 => 2s
	// retryCount=1 => 4s
	// retryCount=2 => 8s

	// clamp the exponent so the multiplication cannot overflow
	if retryCount > 20 {
		retryCount = 20
	}

	multiple := math.Pow(2, float64(retryCount))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay {
		delay = capDelay
	}

	// small jitter (0-250ms) to avoid thundering herd
	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
