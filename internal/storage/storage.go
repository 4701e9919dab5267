// Package storage provides the key-value string store the repository
// persists into.
package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"outline-manager/internal/config"
)

// Store is a string key-value store. Get reports absence with ok=false
// rather than an error.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// New builds the store selected by the storage section of the config.
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendMemory:
		return NewMemoryStore(), nil
	case config.StorageBackendFile:
		return NewFileStore(cfg.Storage.Path)
	case config.StorageBackendSQLite:
		return NewSQLiteStore(cfg.Storage.Path, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
