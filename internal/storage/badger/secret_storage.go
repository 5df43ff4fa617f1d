package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// SecretRecord is the persisted form of a sealed blob
type SecretRecord struct {
	Key       string `badgerhold:"key"`
	Sealed    []byte
	UpdatedAt time.Time
}

// SecretStorage implements the SecretStore interface for Badger.
// Blobs are sealed before they reach the database; the record key is used as
// associated data so a blob cannot be replayed under another key.
type SecretStorage struct {
	db     *BadgerDB
	sealer *Sealer
	logger arbor.ILogger
}

// NewSecretStorage creates a new SecretStorage instance
func NewSecretStorage(db *BadgerDB, sealer *Sealer, logger arbor.ILogger) interfaces.SecretStore {
	return &SecretStorage{
		db:     db,
		sealer: sealer,
		logger: logger,
	}
}

func (s *SecretStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var record SecretRecord
	if err := s.db.Store().Get(key, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	blob, err := s.sealer.Open(record.Sealed, []byte(key))
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *SecretStorage) Put(ctx context.Context, key string, blob []byte) error {
	sealed, err := s.sealer.Seal(blob, []byte(key))
	if err != nil {
		return err
	}

	record := &SecretRecord{
		Key:       key,
		Sealed:    sealed,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(key, record); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("Secret stored")
	return nil
}

func (s *SecretStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.Store().Delete(key, &SecretRecord{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (s *SecretStorage) Keys(ctx context.Context) ([]string, error) {
	var records []SecretRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}

	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
