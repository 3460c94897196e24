package connection

import (
	"math/rand"
	"time"
)

// backoffDelay computes the capped exponential delay for a 1-based attempt:
// min(base << (attempt-1), max). With jitter enabled the result is spread
// uniformly over ±25% of the computed delay.
func backoffDelay(base, max time.Duration, attempt int, jitter bool) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt < 1 {
		attempt = 1
	}

	d := max
	// Shifting past 62 bits overflows time.Duration; the cap applies anyway.
	if shift := attempt - 1; shift < 32 {
		if computed := base << shift; computed > 0 && computed < max {
			d = computed
		}
	}

	if jitter {
		half := int64(d / 2)
		d = d - d/4 + time.Duration(rand.Int63n(half+1))
	}
	return d
}

// scheduler tracks consecutive failed connection attempts and decides
// whether (and when) the next reconnection may run.
type scheduler struct {
	enabled  bool
	base     time.Duration
	max      time.Duration
	jitter   bool
	ceiling  int
	attempts int // consecutive failures since the last successful connect
}

func newScheduler(cfg Config) *scheduler {
	return &scheduler{
		enabled: cfg.Reconnect,
		base:    cfg.ReconnectBaseDelay,
		max:     cfg.ReconnectMaxDelay,
		jitter:  cfg.ReconnectJitter,
		ceiling: cfg.MaxReconnectAttempts,
	}
}

// next returns the delay before the upcoming attempt, or false when the
// ceiling has been reached and the scheduler gives up.
func (s *scheduler) next() (time.Duration, bool) {
	if !s.enabled || s.attempts >= s.ceiling {
		return 0, false
	}
	return backoffDelay(s.base, s.max, s.attempts+1, s.jitter), true
}

// fail records a failed attempt.
func (s *scheduler) fail() {
	s.attempts++
}

// reset clears the counter after a successful connection.
func (s *scheduler) reset() {
	s.attempts = 0
}
