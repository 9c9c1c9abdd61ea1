package chat

import (
	"math"
	"time"
)

const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultFactor       = 2.0
	DefaultMaxAttempts  = 5
)

// Backoff is a bounded exponential retry schedule. Its methods are pure
// functions of the attempt count.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// MaxAttempts is the number of consecutive attempts allowed before giving
	// up. Zero or less means no limit.
	MaxAttempts int
}

// DefaultBackoff returns 1s doubling up to 30s, five attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     DefaultInitialDelay,
		Max:         DefaultMaxDelay,
		Factor:      DefaultFactor,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// normalized fills unset fields with defaults. Max never ends up below Initial.
func (b Backoff) normalized() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultInitialDelay
	}
	if b.Max <= 0 {
		b.Max = DefaultMaxDelay
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = DefaultFactor
	}
	return b
}

// Delay returns the n-th wait of the schedule, counting from zero:
// Initial * Factor^n, capped at Max.
func (b Backoff) Delay(n int) time.Duration {
	b = b.normalized()
	if n <= 0 {
		return b.Initial
	}

	d := float64(b.Initial) * math.Pow(b.Factor, float64(n))
	if math.IsInf(d, 0) || d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// After returns the wait that follows failures consecutive failed attempts.
// The first failure is followed by Initial.
func (b Backoff) After(failures int) time.Duration {
	return b.Delay(failures - 1)
}

// Exhausted reports whether attempts consecutive attempts use up the budget.
func (b Backoff) Exhausted(attempts int) bool {
	return b.MaxAttempts > 0 && attempts >= b.MaxAttempts
}

// Schedule lists the waits between the permitted attempts, i.e. MaxAttempts-1
// delays. It returns nil for an unlimited schedule.
func (b Backoff) Schedule() []time.Duration {
	if b.MaxAttempts <= 0 {
		return nil
	}
	delays := make([]time.Duration, 0, b.MaxAttempts-1)
	for i := 0; i < b.MaxAttempts-1; i++ {
		delays = append(delays, b.Delay(i))
	}
	return delays
}

// ReconnectState is the client's record of consecutive failed attempts since
// the last successful open, and the delay a caller should wait before the
// next attempt.
type ReconnectState struct {
	Attempts int
	Delay    time.Duration
}
