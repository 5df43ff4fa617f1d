package decrypt

import (
	"context"

	"github.com/ternarybob/jcx/internal/models"
)

// sequential decrypts one record at a time
type sequential struct{}

func (sequential) Name() models.StrategyName {
	return models.StrategySequential
}

func (sequential) Execute(ctx context.Context, r *remote, records []models.CredentialRecord, emit Emit) {
	for _, rec := range records {
		emit(r.decryptOne(ctx, rec))
	}
}
