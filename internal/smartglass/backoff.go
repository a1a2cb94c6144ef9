package smartglass

import "time"

// Default reconnect policy.
const (
	defaultBackoffInitial    = 1 * time.Second
	defaultBackoffMax        = 30 * time.Second
	defaultBackoffMultiplier = 1.5
	defaultReconnectAttempts = 5
)

// Backoff is the reconnect delay policy.
type Backoff struct {
	// Initial is the delay before the first attempt.
	Initial time.Duration

	// Max caps every delay.
	Max time.Duration

	// Multiplier grows the previous delay; values below 1 are treated as 1.
	Multiplier float64

	// MaxAttempts bounds the reconnect attempts before the session gives up.
	MaxAttempts int
}

// DefaultBackoff returns the default reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     defaultBackoffInitial,
		Max:         defaultBackoffMax,
		Multiplier:  defaultBackoffMultiplier,
		MaxAttempts: defaultReconnectAttempts,
	}
}

// withDefaults fills zero fields from DefaultBackoff.
func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = def.MaxAttempts
	}
	return b
}

// Next returns the delay before reconnect attempt number attempt (1-based)
// given the delay used before the previous one. It depends only on its
// arguments; for prev <= Max the result is in [prev, Max].
func (b Backoff) Next(attempt int, prev time.Duration) time.Duration {
	b = b.withDefaults()
	if prev >= b.Max {
		return b.Max
	}
	if attempt <= 1 || prev <= 0 {
		return max(b.Initial, prev)
	}
	next := time.Duration(float64(prev) * b.Multiplier)
	if next > b.Max {
		next = b.Max
	}
	if next < prev {
		next = prev
	}
	return next
}

// Exhausted reports whether attempt has used up the reconnect budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.withDefaults().MaxAttempts
}
