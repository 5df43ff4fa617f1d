package decrypt

import (
	"context"

	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/workers"
)

const (
	// DefaultMaxWorkers is used when the profile does not set a worker count
	DefaultMaxWorkers = 10

	// DefaultMaxScriptBytes bounds the encoded size of one composite script
	DefaultMaxScriptBytes = 256 << 10

	// DefaultMaxChunkSize bounds the number of records in one composite script
	DefaultMaxChunkSize = 100
)

// Options are caller overrides for one run
type Options struct {
	// ForceSequential wins over every other selection rule
	ForceSequential bool

	// Strategy pins the strategy when set
	Strategy models.StrategyName

	// Adaptive consults benchmark history instead of the static thresholds
	Adaptive bool
}

// Recommender proposes a strategy for a record count from observed history
type Recommender interface {
	Recommend(n int) models.StrategyName
}

// Emit delivers the result for one record
type Emit func(models.DecryptionResult)

// Strategy processes a batch of records, emitting one result per record
type Strategy interface {
	Name() models.StrategyName
	Execute(ctx context.Context, r *remote, records []models.CredentialRecord, emit Emit)
}

// Select picks the strategy for n records. It has no side effects.
func Select(n int, opts Options, recommender Recommender) models.StrategyName {
	if opts.ForceSequential {
		return models.StrategySequential
	}
	if opts.Strategy.Valid() {
		return opts.Strategy
	}
	if opts.Adaptive && recommender != nil {
		if name := recommender.Recommend(n); name.Valid() {
			return name
		}
	}
	return models.StaticStrategy(n)
}

// WorkerCount is the number of concurrent workers used for n records
func WorkerCount(profile models.ServerProfile, n int) int {
	count := profile.MaxWorkers
	if count <= 0 {
		count = DefaultMaxWorkers
	}
	if n < count {
		count = n
	}
	if count > workers.MaxWorkers {
		count = workers.MaxWorkers
	}
	if count < 1 {
		count = 1
	}
	return count
}

func strategyFor(name models.StrategyName) Strategy {
	switch name {
	case models.StrategyParallel:
		return parallel{}
	case models.StrategyBatch:
		return batch{}
	default:
		return sequential{}
	}
}
