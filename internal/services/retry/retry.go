package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/models"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultJitter      = 0.1
)

// Gate is consulted before every attempt and told the outcome afterwards.
// *breaker.Breaker satisfies it.
type Gate interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
	ReleaseProbe()
}

// Operation is a single remote call
type Operation func(ctx context.Context) error

// Policy retries transient failures with capped exponential backoff plus jitter
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      float64

	randMu sync.Mutex
	rand   *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
	logger arbor.ILogger
}

// Option configures a Policy
type Option func(*Policy)

// WithSleep replaces the backoff sleep, used by tests to record delays
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// WithRandSource seeds the jitter source
func WithRandSource(src rand.Source) Option {
	return func(p *Policy) {
		p.rand = rand.New(src)
	}
}

// WithLogger sets a logger for retry attempts
func WithLogger(logger arbor.ILogger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// NewPolicy creates a retry policy from cfg, filling unset fields with defaults
func NewPolicy(cfg models.RetryConfig, opts ...Option) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = DefaultJitter
	}

	p := &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		jitter:      cfg.Jitter,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       sleepContext,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// MaxAttempts returns the attempt budget
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// BaseBackoff returns base*2^attempt capped at the maximum delay, without jitter
func (p *Policy) BaseBackoff(attempt int) time.Duration {
	d := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if d >= float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(d)
}

// Backoff returns the delay before retrying after the given zero-based attempt.
// Jitter stays within ±jitter of the base backoff, so with jitter below 1/3
// successive delays strictly increase until the cap is reached.
func (p *Policy) Backoff(attempt int) time.Duration {
	base := p.BaseBackoff(attempt)
	if p.jitter == 0 {
		return base
	}

	p.randMu.Lock()
	f := p.rand.Float64()*2 - 1
	p.randMu.Unlock()

	d := time.Duration(float64(base) * (1 + f*p.jitter))
	if d < 0 {
		return 0
	}
	return d
}

// Execute runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Before every attempt the gate is asked for
// admission; a rejection ends the loop with KindCircuitOpen and does not
// count against the budget since no request was sent.
func (p *Policy) Execute(ctx context.Context, gate Gate, op Operation) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.WrapError(models.KindCancelled, "operation cancelled", err)
		}

		if gate != nil && !gate.Allow() {
			return models.NewError(models.KindCircuitOpen, "circuit breaker is open, request not sent")
		}

		err := op(ctx)
		report(ctx, gate, err)

		if err == nil {
			return nil
		}
		lastErr = err

		if !models.IsTransient(err) {
			return err
		}

		if attempt == p.maxAttempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		if p.logger != nil {
			p.logger.Debug().
				Int("attempt", attempt+1).
				Int("max_attempts", p.maxAttempts).
				Str("kind", string(models.KindOf(err))).
				Str("delay", delay.String()).
				Msg("Transient failure, retrying")
		}

		if err := p.sleep(ctx, delay); err != nil {
			return models.WrapError(models.KindCancelled, "retry backoff cancelled", err)
		}
	}

	e := models.AsError(lastErr)
	return models.WrapError(e.Kind, fmt.Sprintf("giving up after %d attempts", p.maxAttempts), lastErr)
}

// report tells the gate how the attempt went. Transport failures count against
// the server; any other answer proves the server is reachable. An attempt
// cancelled by the caller releases a probe slot without an outcome.
func report(ctx context.Context, gate Gate, err error) {
	if gate == nil {
		return
	}

	switch {
	case err == nil:
		gate.RecordSuccess()
	case models.KindOf(err) == models.KindCancelled || (ctx.Err() != nil && !models.IsTransient(err)):
		gate.ReleaseProbe()
	case models.IsTransient(err):
		gate.RecordFailure()
	default:
		gate.RecordSuccess()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
