package breaker

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/models"
)

const (
	// DefaultFailureThreshold is the number of consecutive failures that opens the circuit
	DefaultFailureThreshold = 5

	// DefaultCoolDown is how long an open circuit rejects calls before admitting a probe
	DefaultCoolDown = 60 * time.Second
)

// Breaker tracks consecutive transport failures against one server and
// gates whether new requests are attempted.
//
// Closed -> Open once failures reach the threshold. Open -> HalfOpen when a
// call attempt arrives after the cool-down. HalfOpen admits exactly one probe;
// its success closes the circuit, its failure re-opens it immediately.
type Breaker struct {
	mu            sync.Mutex
	name          string
	state         models.BreakerState
	failures      int
	lastFailure   time.Time
	threshold     int
	coolDown      time.Duration
	probeInFlight bool
	now           func() time.Time
	logger        arbor.ILogger
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock replaces the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithLogger sets a logger for state transitions
func WithLogger(logger arbor.ILogger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// New creates a closed breaker
func New(name string, cfg models.BreakerConfig, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultCoolDown
	}

	b := &Breaker{
		name:      name,
		state:     models.BreakerClosed,
		threshold: cfg.FailureThreshold,
		coolDown:  cfg.CoolDown,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Allow reports whether a request may be attempted now. A true result in
// the HalfOpen state reserves the single probe slot; the caller must follow
// up with RecordSuccess, RecordFailure or ReleaseProbe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case models.BreakerClosed:
		return true

	case models.BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.coolDown {
			return false
		}
		b.transition(models.BreakerHalfOpen)
		b.probeInFlight = true
		return true

	case models.BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}

	return false
}

// RecordSuccess records a call that reached the server
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == models.BreakerHalfOpen {
		b.probeInFlight = false
		b.transition(models.BreakerClosed)
	}
}

// RecordFailure records a transport failure
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case models.BreakerHalfOpen:
		b.probeInFlight = false
		b.transition(models.BreakerOpen)

	case models.BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.transition(models.BreakerOpen)
		}

	case models.BreakerOpen:
		// Late failure from a call admitted before the circuit opened
		b.failures++
	}
}

// ReleaseProbe frees the HalfOpen probe slot without recording an outcome,
// used when the probe was cancelled before reaching the server.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == models.BreakerHalfOpen {
		b.probeInFlight = false
	}
}

// Snapshot returns a copy of the breaker state for diagnostics
func (b *Breaker) Snapshot() models.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return models.BreakerSnapshot{
		State:         b.state,
		Failures:      b.failures,
		LastFailure:   b.lastFailure,
		Threshold:     b.threshold,
		CoolDown:      b.coolDown,
		ProbeInFlight: b.probeInFlight,
	}
}

// transition must be called with mu held
func (b *Breaker) transition(to models.BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	if b.logger != nil {
		b.logger.Info().
			Str("server", b.name).
			Str("from", string(from)).
			Str("to", string(to)).
			Int("failures", b.failures).
			Msg("Circuit breaker state changed")
	}
}
