package breaker

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/models"
)

// Registry holds one breaker per server identity for the lifetime of the process
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
	logger   arbor.ILogger
}

// NewRegistry creates an empty registry. opts are applied to every breaker it creates.
func NewRegistry(logger arbor.ILogger, opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     append([]Option{WithLogger(logger)}, opts...),
		logger:   logger,
	}
}

// Get returns the breaker for identity, creating it from cfg on first use
func (r *Registry) Get(identity string, cfg models.BreakerConfig) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[identity]; ok {
		return b
	}

	b := New(identity, cfg, r.opts...)
	r.breakers[identity] = b

	r.logger.Debug().
		Str("server", identity).
		Int("threshold", b.threshold).
		Str("cool_down", b.coolDown.String()).
		Msg("Circuit breaker created")

	return b
}

// Snapshots returns the state of every known breaker keyed by identity
func (r *Registry) Snapshots() map[string]models.BreakerSnapshot {
	r.mu.Lock()
	breakers := make(map[string]*Breaker, len(r.breakers))
	for id, b := range r.breakers {
		breakers[id] = b
	}
	r.mu.Unlock()

	out := make(map[string]models.BreakerSnapshot, len(breakers))
	for id, b := range breakers {
		out[id] = b.Snapshot()
	}
	return out
}
