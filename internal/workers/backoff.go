package workers

import "time"

// Backoff produces the pauses between retries of a failing worker loop:
// base × 2^k for the k-th consecutive failure, capped at max.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	failures int
}

// NewBackoff returns a backoff with the given base delay and cap.
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next records another failure and returns how long to wait before retrying.
func (b *Backoff) Next() time.Duration {
	b.failures++
	if b.base <= 0 {
		return 0
	}
	d := b.base
	for i := 0; i < b.failures; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	return d
}

// Failures returns the consecutive-failure count.
func (b *Backoff) Failures() int {
	return b.failures
}

// Reset clears the failure count after a clean pass.
func (b *Backoff) Reset() {
	b.failures = 0
}
