package performance

import (
	"context"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
)

// successRateTolerance treats strategies whose success rates differ by less
// than this as equally reliable, so throughput decides between them.
const successRateTolerance = 0.02

// Monitor records one sample per strategy execution and recommends a strategy
// for a record count from that history.
type Monitor struct {
	mu      sync.Mutex
	samples []models.BenchmarkSample
	storage interfaces.BenchmarkStorage
	now     func() time.Time
	logger  arbor.ILogger
}

// Option configures a Monitor
type Option func(*Monitor)

// WithStorage persists samples as they are recorded
func WithStorage(storage interfaces.BenchmarkStorage) Option {
	return func(m *Monitor) {
		m.storage = storage
	}
}

// WithClock replaces the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a monitor with an empty history
func NewMonitor(logger arbor.ILogger, opts ...Option) *Monitor {
	m := &Monitor{
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory history with the persisted samples
func (m *Monitor) Load(ctx context.Context) error {
	if m.storage == nil {
		return nil
	}

	samples, err := m.storage.ListSamples(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.samples = samples
	m.mu.Unlock()

	m.logger.Debug().Int("samples", len(samples)).Msg("Benchmark history loaded")
	return nil
}

// Record appends a sample to the history. A persistence failure is logged
// and the sample is kept in memory.
func (m *Monitor) Record(ctx context.Context, sample models.BenchmarkSample) models.BenchmarkSample {
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = m.now()
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	m.mu.Unlock()

	if m.storage != nil {
		if err := m.storage.AppendSample(ctx, &sample); err != nil {
			m.logger.Warn().Err(err).Str("strategy", string(sample.Strategy)).Msg("Could not persist benchmark sample")
		}
	}

	m.logger.Info().
		Str("strategy", string(sample.Strategy)).
		Int("count", sample.Count).
		Int("successes", sample.Successes).
		Int("failures", sample.Failures).
		Dur("elapsed", sample.Elapsed).
		Float64("throughput", sample.Throughput()).
		Msg("Strategy execution recorded")

	return sample
}

// Samples returns a copy of the history, oldest first
func (m *Monitor) Samples() []models.BenchmarkSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.BenchmarkSample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Wrap passes every result of in through unchanged and records one sample,
// built on the given template, once in is closed. The sample is recorded
// before the returned channel closes.
func (m *Monitor) Wrap(template models.BenchmarkSample, in <-chan models.DecryptionResult) <-chan models.DecryptionResult {
	out := make(chan models.DecryptionResult, cap(in))
	start := m.now()

	go func() {
		defer close(out)

		sample := template
		for result := range in {
			if result.OK() {
				sample.Successes++
			} else {
				sample.Failures++
			}
			out <- result
		}

		sample.Elapsed = m.now().Sub(start)
		m.Record(context.Background(), sample)
	}()

	return out
}

// Recommend picks the strategy that performed best for record counts of the
// same order of magnitude as n. Without relevant history it falls back to the
// static count thresholds.
func (m *Monitor) Recommend(n int) models.StrategyName {
	m.mu.Lock()
	samples := make([]models.BenchmarkSample, len(m.samples))
	copy(samples, m.samples)
	m.mu.Unlock()

	target := bucket(n)
	nearest := -1
	for _, s := range samples {
		if !s.Strategy.Valid() {
			continue
		}
		d := distance(bucket(s.Count), target)
		if nearest < 0 || d < nearest {
			nearest = d
		}
	}
	if nearest < 0 {
		return models.StaticStrategy(n)
	}

	stats := make(map[models.StrategyName]*aggregate)
	for _, s := range samples {
		if !s.Strategy.Valid() || distance(bucket(s.Count), target) != nearest {
			continue
		}
		a, ok := stats[s.Strategy]
		if !ok {
			a = &aggregate{}
			stats[s.Strategy] = a
		}
		a.add(s)
	}

	best := models.StaticStrategy(n)
	var bestStats *aggregate
	for _, name := range models.Strategies {
		a, ok := stats[name]
		if !ok {
			continue
		}
		if bestStats == nil || a.better(bestStats) {
			best, bestStats = name, a
		}
	}

	m.logger.Debug().
		Int("count", n).
		Str("strategy", string(best)).
		Msg("Strategy recommended from history")

	return best
}

type aggregate struct {
	samples     int
	successRate float64
	throughput  float64
}

func (a *aggregate) add(s models.BenchmarkSample) {
	a.successRate = (a.successRate*float64(a.samples) + s.SuccessRate()) / float64(a.samples+1)
	a.throughput = (a.throughput*float64(a.samples) + s.Throughput()) / float64(a.samples+1)
	a.samples++
}

func (a *aggregate) better(other *aggregate) bool {
	if math.Abs(a.successRate-other.successRate) >= successRateTolerance {
		return a.successRate > other.successRate
	}
	return a.throughput > other.throughput
}

// bucket groups record counts by power of two
func bucket(n int) int {
	if n <= 0 {
		return 0
	}
	return bits.Len(uint(n))
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
