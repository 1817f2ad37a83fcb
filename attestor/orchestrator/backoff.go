package orchestrator

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	backoffMultiplier = 2.0
	backoffJitter     = 0.1
)

// backoff spaces verifier retries exponentially from initial up to max, with +/-10% jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	rand    func() float64
}

func newBackoff(initial, ceiling time.Duration) backoff {
	if ceiling < initial {
		ceiling = initial
	}
	return backoff{initial: initial, max: ceiling, rand: rand.Float64}
}

// delay returns the wait before retry number retry, counted from zero.
func (b backoff) delay(retry int) time.Duration {
	if b.initial <= 0 {
		return 0
	}
	retry = max(0, retry)

	d := float64(b.initial) * math.Pow(backoffMultiplier, float64(retry))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	d += (b.rand()*2 - 1) * backoffJitter * d
	if d < 0 {
		return b.initial
	}
	return time.Duration(d)
}
