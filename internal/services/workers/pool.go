package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/common"
)

// MaxWorkers caps every pool regardless of configuration
const MaxWorkers = 20

// Job represents a work item to be processed
type Job func(ctx context.Context)

// Pool manages a bounded pool of workers consuming a shared queue
type Pool struct {
	jobs       chan Job
	maxWorkers int
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	logger     arbor.ILogger
}

// NewPool creates a new worker pool bound to ctx. Cancelling ctx stops
// dispatch; jobs already running finish on their own.
func NewPool(ctx context.Context, maxWorkers int, logger arbor.ILogger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if maxWorkers > MaxWorkers {
		maxWorkers = MaxWorkers
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		jobs:       make(chan Job),
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.maxWorkers
}

// Start begins the worker pool
func (p *Pool) Start() {
	p.logger.Debug().
		Int("max_workers", p.maxWorkers).
		Msg("Starting worker pool")

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit hands a job to the next free worker, blocking until one is free.
// It fails once the pool's context is cancelled.
func (p *Pool) Submit(job Job) error {
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}

	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", p.ctx.Err())
	}
}

// Wait closes the queue and waits for all submitted jobs to complete
func (p *Pool) Wait() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
	p.cancel()
}

// Shutdown stops dispatch and waits for running jobs
func (p *Pool) Shutdown() {
	p.cancel()
	p.Wait()
	p.logger.Debug().Msg("Worker pool shutdown complete")
}

// worker processes jobs from the queue
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(id, job)
	}

	p.logger.Debug().
		Int("worker_id", id).
		Msg("Worker stopping - job queue closed")
}

// run executes one job. A panicking job is logged and the worker moves on.
func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", id).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic in worker job")
		}
	}()

	job(p.ctx)
}
