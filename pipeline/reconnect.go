package pipeline

import "time"

// backoff yields exponentially growing waits: initial, 2×initial, ... capped
// at max.
type backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func newBackoff(cfg ReconnectConfig) *backoff {
	b := &backoff{initial: cfg.InitialBackoff, max: cfg.MaxBackoff}
	if b.initial <= 0 {
		b.initial = defaultBackoff
	}
	if b.max < b.initial {
		b.max = b.initial
	}
	b.next = b.initial
	return b
}

// Next returns the wait before the upcoming attempt and advances.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

func (b *backoff) Reset() {
	b.next = b.initial
}
