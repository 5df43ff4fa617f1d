package guard

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/retry"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the default request rate against one server (requests per second)
	DefaultRateLimit = 3.0

	// DefaultTimeout is the default timeout of one remote call
	DefaultTimeout = 30 * time.Second
)

// NewLimiter builds the token bucket shared by all requests to one server
func NewLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRateLimit
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Guard is the guarded call path: every attempt passes the circuit breaker,
// waits for a rate-limiter token and runs under the per-call timeout, with
// transient failures retried by the policy.
type Guard struct {
	limiter *rate.Limiter
	gate    retry.Gate
	policy  *retry.Policy
	timeout time.Duration
	logger  arbor.ILogger
}

// New creates a guard. limiter and gate may be shared across guards for the same server.
func New(limiter *rate.Limiter, gate retry.Gate, policy *retry.Policy, timeout time.Duration, logger arbor.ILogger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		limiter: limiter,
		gate:    gate,
		policy:  policy,
		timeout: timeout,
		logger:  logger,
	}
}

// Call runs op through the guarded path
func (g *Guard) Call(ctx context.Context, op retry.Operation) error {
	return g.policy.Execute(ctx, g.gate, func(ctx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return models.WrapError(models.KindCancelled, "rate limiter wait aborted", err)
			}
		}

		// A call that has started runs to completion or timeout even if the
		// caller cancels; cancellation only stops new attempts.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		err := op(callCtx)
		if err != nil && models.KindOf(err) == models.KindUnknown {
			err = classifyContext(callCtx, err)
		}
		return err
	})
}

// Timeout returns the per-call timeout
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// classifyContext turns an untyped deadline error into a timeout
func classifyContext(call context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || call.Err() != nil {
		return models.WrapError(models.KindTimeout, "call timed out", err)
	}
	return err
}
