package feed

import "time"

// backoff doubles its delay up to a cap. Used only for the supervised
// initial connect; reconnects after that are paho's.
type backoff struct {
	cur time.Duration
	max time.Duration
}

// Purpose: Construct an exponential backoff timer.
// Key aspects: Normalizes base/max and starts at base delay.
// Upstream: Feed connect supervisor.
// Downstream: backoff.Next.
func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{cur: base, max: max}
}

// Purpose: Return the next backoff delay and advance the window.
// Key aspects: Doubles up to the max cap.
// Upstream: Feed connect supervisor retry loop.
// Downstream: None.
func (b *backoff) Next() time.Duration {
	if b.cur >= b.max {
		return b.max
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}
