package decrypt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/breaker"
	"github.com/ternarybob/jcx/internal/services/guard"
	"github.com/ternarybob/jcx/internal/services/performance"
	"github.com/ternarybob/jcx/internal/services/retry"
	"golang.org/x/time/rate"
)

// Orchestrator turns a list of credential records into a stream of
// decryption results against one Jenkins server.
type Orchestrator struct {
	sessions  interfaces.SessionManager
	consoles  interfaces.ConsoleFactory
	breakers  *breaker.Registry
	monitor   *performance.Monitor
	retryOpts []retry.Option
	logger    arbor.ILogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithMonitor records every run and enables adaptive selection
func WithMonitor(monitor *performance.Monitor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.monitor = monitor
	}
}

// WithRetryOptions passes options to every retry policy, used by tests to skip backoff sleeps
func WithRetryOptions(opts ...retry.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retryOpts = append(o.retryOpts, opts...)
	}
}

// NewOrchestrator creates an orchestrator. The session manager and breaker
// registry are shared with the rest of the application.
func NewOrchestrator(sessions interfaces.SessionManager, consoles interfaces.ConsoleFactory, breakers *breaker.Registry, logger arbor.ILogger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		consoles: consoles,
		breakers: breakers,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run decrypts records against the profile's server. Validation and
// authentication failures are returned before any record is dispatched.
// Otherwise the returned channel yields exactly one result per record and
// is closed when the run is complete; it cannot be restarted.
func (o *Orchestrator) Run(ctx context.Context, records []models.CredentialRecord, profile models.ServerProfile, opts Options) (<-chan models.DecryptionResult, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateRecords(records); err != nil {
		return nil, fmt.Errorf("invalid records: %w", err)
	}

	name := Select(len(records), opts, o.recommender())

	if len(records) == 0 {
		out := make(chan models.DecryptionResult)
		close(out)
		return out, nil
	}

	session, err := o.sessions.Acquire(ctx, profile)
	if err != nil {
		return nil, err
	}

	strategy := strategyFor(name)
	g := o.guard(profile)
	r := newRemote(o.consoles(profile), o.sessions, profile, session, g, o.logger)

	o.logger.Info().
		Str("server", profile.Identity()).
		Str("strategy", string(name)).
		Int("records", len(records)).
		Dur("call_timeout", g.Timeout()).
		Msg("Starting decryption run")

	// Buffered for every record so strategies never block on a slow consumer
	out := make(chan models.DecryptionResult, len(records))
	e := newEmitter(records, out)

	go func() {
		defer close(out)
		strategy.Execute(ctx, r, records, e.emit)
		e.finish(ctx)
	}()

	if o.monitor == nil {
		return out, nil
	}

	return o.monitor.Wrap(sampleTemplate(name, profile, records), out), nil
}

// Benchmark runs each strategy over the same records and compares throughput.
// It requires a monitor.
func (o *Orchestrator) Benchmark(ctx context.Context, records []models.CredentialRecord, profile models.ServerProfile, strategies []models.StrategyName) (*performance.Comparison, error) {
	if o.monitor == nil {
		return nil, fmt.Errorf("benchmark requires a performance monitor")
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("benchmark requires at least one record")
	}

	return o.monitor.Compare(ctx, strategies, func(ctx context.Context, strategy models.StrategyName) (models.BenchmarkSample, error) {
		start := time.Now()

		results, err := o.Run(ctx, records, profile, Options{Strategy: strategy})
		if err != nil {
			return models.BenchmarkSample{}, err
		}

		sample := sampleTemplate(strategy, profile, records)
		for result := range results {
			if result.OK() {
				sample.Successes++
			} else {
				sample.Failures++
			}
		}
		sample.Elapsed = time.Since(start)
		sample.RecordedAt = time.Now()
		return sample, nil
	})
}

func (o *Orchestrator) recommender() Recommender {
	if o.monitor == nil {
		return nil
	}
	return o.monitor
}

// guard builds the guarded call path for one run. The limiter and breaker
// are shared by every run against the same server.
func (o *Orchestrator) guard(profile models.ServerProfile) *guard.Guard {
	identity := profile.Identity()
	policy := retry.NewPolicy(profile.Retry, append([]retry.Option{retry.WithLogger(o.logger)}, o.retryOpts...)...)
	return guard.New(o.limiter(identity, profile), o.breakers.Get(identity, profile.Breaker), policy, profile.Timeout, o.logger)
}

func (o *Orchestrator) limiter(identity string, profile models.ServerProfile) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.limiters[identity]
	if !ok {
		l = guard.NewLimiter(profile.RateLimit, profile.Burst)
		o.limiters[identity] = l
	}
	return l
}

func sampleTemplate(name models.StrategyName, profile models.ServerProfile, records []models.CredentialRecord) models.BenchmarkSample {
	sample := models.BenchmarkSample{
		Strategy: name,
		Server:   profile.Identity(),
		Count:    len(records),
		Workers:  1,
	}

	switch name {
	case models.StrategyParallel:
		sample.Workers = WorkerCount(profile, len(records))
	case models.StrategyBatch:
		chunks := Chunk(records, profile.Batch)
		sample.Workers = WorkerCount(profile, len(chunks))
		for _, c := range chunks {
			if len(c) > sample.ChunkSize {
				sample.ChunkSize = len(c)
			}
		}
	}

	return sample
}

// emitter forwards each record's first result and drops duplicates, so the
// stream carries exactly one result per record.
type emitter struct {
	mu      sync.Mutex
	pending map[string]struct{}
	order   []string
	out     chan<- models.DecryptionResult
}

func newEmitter(records []models.CredentialRecord, out chan<- models.DecryptionResult) *emitter {
	e := &emitter{
		pending: make(map[string]struct{}, len(records)),
		order:   make([]string, 0, len(records)),
		out:     out,
	}
	for _, rec := range records {
		e.pending[rec.ID] = struct{}{}
		e.order = append(e.order, rec.ID)
	}
	return e
}

func (e *emitter) emit(result models.DecryptionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[result.ID]; !ok {
		return
	}
	delete(e.pending, result.ID)
	e.out <- result
}

// finish fails every record a strategy did not report
func (e *emitter) finish(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.order {
		if _, ok := e.pending[id]; !ok {
			continue
		}
		delete(e.pending, id)

		kind := models.KindUnknown
		if ctx.Err() != nil {
			kind = models.KindCancelled
		}
		e.out <- models.Failed(id, kind, "no result produced")
	}
}
