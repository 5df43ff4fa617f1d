package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/jcx/internal/models"
)

// ErrSecretNotFound is returned by SecretStore.Get for unknown keys
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore - keyed storage for opaque secret blobs (sealed at rest)
type SecretStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// BenchmarkStorage - append-only persistence for benchmark samples
type BenchmarkStorage interface {
	AppendSample(ctx context.Context, sample *models.BenchmarkSample) error
	ListSamples(ctx context.Context) ([]models.BenchmarkSample, error)
}
