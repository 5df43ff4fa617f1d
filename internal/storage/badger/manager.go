package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jcx/internal/common"
	"github.com/ternarybob/jcx/internal/interfaces"
)

// Manager owns the Badger connection and the storages built on it
type Manager struct {
	db         *BadgerDB
	secrets    interfaces.SecretStore
	benchmarks interfaces.BenchmarkStorage
	logger     arbor.ILogger
}

// NewManager opens the database and loads (or creates) the sealing key
func NewManager(logger arbor.ILogger, config *common.BadgerConfig, security *common.SecurityConfig) (*Manager, error) {
	key, err := LoadOrCreateKey(security.KeyFile)
	if err != nil {
		return nil, err
	}

	sealer, err := NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise sealer: %w", err)
	}

	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		secrets:    NewSecretStorage(db, sealer, logger),
		benchmarks: NewBenchmarkStorage(db, logger),
		logger:     logger,
	}

	logger.Debug().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// SecretStore returns the sealed secret storage
func (m *Manager) SecretStore() interfaces.SecretStore {
	return m.secrets
}

// BenchmarkStorage returns the benchmark history storage
func (m *Manager) BenchmarkStorage() interfaces.BenchmarkStorage {
	return m.benchmarks
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
