package decrypt

import (
	"context"

	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/workers"
)

// parallel decrypts records individually on a bounded worker pool. The
// shared rate limiter in the guarded path paces the workers.
type parallel struct{}

func (parallel) Name() models.StrategyName {
	return models.StrategyParallel
}

func (parallel) Execute(ctx context.Context, r *remote, records []models.CredentialRecord, emit Emit) {
	pool := workers.NewPool(ctx, WorkerCount(r.profile, len(records)), r.logger)
	pool.Start()

	for i, rec := range records {
		rec := rec
		if err := pool.Submit(func(ctx context.Context) {
			emit(r.decryptOne(ctx, rec))
		}); err != nil {
			cancelRemaining(records[i:], err, emit)
			pool.Shutdown()
			return
		}
	}

	pool.Wait()
}

// cancelRemaining fails records that were never dispatched
func cancelRemaining(records []models.CredentialRecord, cause error, emit Emit) {
	for _, rec := range records {
		emit(models.FailedWith(rec.ID, models.WrapError(models.KindCancelled, "run cancelled before dispatch", cause)))
	}
}
