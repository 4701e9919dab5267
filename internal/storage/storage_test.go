package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outline-manager/internal/config"
)

func TestStores(t *testing.T) {
	tests := []struct {
		name  string
		store func(t *testing.T) Store
	}{
		{
			name:  "Memory",
			store: func(t *testing.T) Store { return NewMemoryStore() },
		},
		{
			name: "File",
			store: func(t *testing.T) Store {
				s, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "store.json"))
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "SQLite",
			store: func(t *testing.T) Store {
				s, err := NewSQLiteStore(":memory:", zap.NewNop())
				require.NoError(t, err)
				t.Cleanup(func() { s.Close() })
				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.store(t)

			_, ok, err := s.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set("servers_v1", `{"a":{}}`))
			v, ok, err := s.Get("servers_v1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"a":{}}`, v)

			require.NoError(t, s.Set("servers_v1", `{}`))
			v, _, err = s.Get("servers_v1")
			require.NoError(t, err)
			assert.Equal(t, `{}`, v)

			require.NoError(t, s.Set("empty", ""))
			v, ok, err = s.Get("empty")
			require.NoError(t, err)
			assert.True(t, ok, "empty values are still present")
			assert.Equal(t, "", v)

			require.NoError(t, s.Delete("servers_v1"))
			_, ok, err = s.Get("servers_v1")
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, s.Delete("servers_v1"))
		})
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set("k", "v"))

	second, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := second.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must not be left behind")
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, _, err = s.Get("k")
	assert.Error(t, err)
}

func TestSQLiteStorePersistsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "outline.db")

	first, err := NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Set("k", "v"))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()
	v, ok, err := second.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestNew(t *testing.T) {
	cfg := &config.Config{Storage: config.Storage{Backend: config.StorageBackendMemory}}
	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	cfg.Storage = config.Storage{Backend: config.StorageBackendFile, Path: filepath.Join(t.TempDir(), "s.json")}
	s, err = New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	cfg.Storage = config.Storage{Backend: "etcd"}
	_, err = New(cfg, zap.NewNop())
	assert.Error(t, err)
}
