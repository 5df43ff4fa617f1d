package performance

import (
	"context"
	"fmt"

	"github.com/ternarybob/jcx/internal/models"
)

// RunFunc executes one strategy and reports the observed sample
type RunFunc func(ctx context.Context, strategy models.StrategyName) (models.BenchmarkSample, error)

// Comparison is the outcome of running several strategies on the same input
type Comparison struct {
	Samples []models.BenchmarkSample
	Fastest models.StrategyName

	// Relative is each strategy's throughput divided by the fastest one
	Relative map[models.StrategyName]float64
}

// Compare runs each strategy in turn on the same input. Strategies run one
// after another so they do not compete for the server.
func (m *Monitor) Compare(ctx context.Context, strategies []models.StrategyName, run RunFunc) (*Comparison, error) {
	if len(strategies) == 0 {
		strategies = models.Strategies
	}

	cmp := &Comparison{
		Relative: make(map[models.StrategyName]float64, len(strategies)),
	}

	best := -1.0
	for _, strategy := range strategies {
		if !strategy.Valid() {
			return nil, fmt.Errorf("unknown strategy %q", strategy)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("benchmark cancelled: %w", err)
		}

		m.logger.Info().Str("strategy", string(strategy)).Msg("Benchmarking strategy")

		sample, err := run(ctx, strategy)
		if err != nil {
			return nil, fmt.Errorf("failed to benchmark %s: %w", strategy, err)
		}
		cmp.Samples = append(cmp.Samples, sample)

		if tp := sample.Throughput(); tp > best {
			best = tp
			cmp.Fastest = strategy
		}
	}

	for _, s := range cmp.Samples {
		if best > 0 {
			cmp.Relative[s.Strategy] = s.Throughput() / best
		} else {
			cmp.Relative[s.Strategy] = 0
		}
	}

	m.logger.Info().Str("fastest", string(cmp.Fastest)).Msg("Benchmark complete")

	return cmp, nil
}
