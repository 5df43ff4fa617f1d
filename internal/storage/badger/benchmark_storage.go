package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// BenchmarkStorage implements the BenchmarkStorage interface for Badger
type BenchmarkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBenchmarkStorage creates a new BenchmarkStorage instance
func NewBenchmarkStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BenchmarkStorage {
	return &BenchmarkStorage{
		db:     db,
		logger: logger,
	}
}

func (s *BenchmarkStorage) AppendSample(ctx context.Context, sample *models.BenchmarkSample) error {
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}

	if err := s.db.Store().Insert(sample.ID, sample); err != nil {
		return fmt.Errorf("failed to append benchmark sample: %w", err)
	}
	return nil
}

// ListSamples returns every sample, oldest first
func (s *BenchmarkStorage) ListSamples(ctx context.Context) ([]models.BenchmarkSample, error) {
	var samples []models.BenchmarkSample
	if err := s.db.Store().Find(&samples, badgerhold.Where("ID").Ne("").SortBy("RecordedAt")); err != nil {
		return nil, fmt.Errorf("failed to list benchmark samples: %w", err)
	}
	return samples, nil
}
