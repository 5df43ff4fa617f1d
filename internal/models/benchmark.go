package models

import "time"

// StrategyName identifies how a batch of records is processed
type StrategyName string

const (
	StrategySequential StrategyName = "sequential"
	StrategyParallel   StrategyName = "parallel"
	StrategyBatch      StrategyName = "batch"
)

// Strategies lists every strategy in ascending order of concurrency
var Strategies = []StrategyName{StrategySequential, StrategyParallel, StrategyBatch}

const (
	// SequentialMaxCount is the largest batch processed one record at a time
	SequentialMaxCount = 5

	// ParallelMaxCount is the largest batch processed with individual parallel calls
	ParallelMaxCount = 50
)

// StaticStrategy picks a strategy from the record count alone
func StaticStrategy(n int) StrategyName {
	switch {
	case n <= SequentialMaxCount:
		return StrategySequential
	case n <= ParallelMaxCount:
		return StrategyParallel
	default:
		return StrategyBatch
	}
}

// Valid reports whether the name is a known strategy
func (s StrategyName) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// BenchmarkSample is one observed execution of a strategy.
// Samples are append-only for the lifetime of the process.
type BenchmarkSample struct {
	ID         string        `json:"id"`
	Strategy   StrategyName  `json:"strategy"`
	Server     string        `json:"server"`
	Count      int           `json:"count"`
	Elapsed    time.Duration `json:"elapsed"`
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
	Workers    int           `json:"workers,omitempty"`
	ChunkSize  int           `json:"chunk_size,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Throughput returns decrypted records per second
func (s BenchmarkSample) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Successes) / s.Elapsed.Seconds()
}

// SuccessRate returns the fraction of records decrypted, 0 for an empty sample
func (s BenchmarkSample) SuccessRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

// BreakerState is the state of a circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a diagnostics copy of a breaker's state
type BreakerSnapshot struct {
	State         BreakerState  `json:"state"`
	Failures      int           `json:"failures"`
	LastFailure   time.Time     `json:"last_failure,omitempty"`
	Threshold     int           `json:"threshold"`
	CoolDown      time.Duration `json:"cool_down"`
	ProbeInFlight bool          `json:"probe_in_flight"`
}
