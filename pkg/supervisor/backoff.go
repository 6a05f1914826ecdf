package supervisor

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultBackoffBase = 3 * time.Second
	DefaultBackoffMax  = 20 * time.Second
)

// Backoff is the reconnect delay: base, doubling per consecutive failure,
// capped at max. It is owned by the supervising goroutine.
type Backoff struct {
	base time.Duration
	max  time.Duration
	next retry.Backoff
}

func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = base
	}
	b := &Backoff{base: base, max: max}
	b.Reset()
	return b
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d, _ := b.next.Next()
	return d
}

// Reset restarts the sequence at base.
func (b *Backoff) Reset() {
	b.next = retry.WithCappedDuration(b.max, retry.NewExponential(b.base))
}
