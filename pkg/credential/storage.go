package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/sprl/lookup/pkg/encrypt"
)

// MemoryStorage keeps values in memory.
type MemoryStorage struct {
	values map[string]string
	mu     sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get implements Storage.
func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Storage.
func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Len returns the number of stored values.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// FileStorage keeps all values in one JSON file, replaced atomically on every Set.
// With a passphrase the file is sealed with AES-256-GCM under an Argon2id key.
type FileStorage struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// FileStorageOption configures a FileStorage.
type FileStorageOption func(*FileStorage)

// WithPassphrase seals the storage file.
func WithPassphrase(passphrase string) FileStorageOption {
	return func(f *FileStorage) { f.passphrase = passphrase }
}

var fileAAD = []byte("lookup credential file v1")

// NewFileStorage creates a file storage at path. The parent directory is created if needed.
func NewFileStorage(path string, opts ...FileStorageOption) (*FileStorage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("credential file path required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	f := &FileStorage{path: trimmed}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if f.passphrase != "" {
		data, err = encrypt.OpenWithPassphrase(f.passphrase, data, fileAAD)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal %s: %w", f.path, err)
		}
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return values, nil
}

// Get implements Storage.
func (f *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set implements Storage.
func (f *FileStorage) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}
	if f.passphrase != "" {
		data, err = encrypt.SealWithPassphrase(f.passphrase, data, fileAAD)
		if err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// LevelDBStorage keeps values in a LevelDB database under a key prefix.
type LevelDBStorage struct {
	db     *leveldb.DB
	prefix string
}

// NewLevelDBStorage opens (or creates) a LevelDB database at path.
func NewLevelDBStorage(path, prefix string) (*LevelDBStorage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("leveldb credential path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb credential path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb credential store: %w", err)
	}
	return &LevelDBStorage{db: db, prefix: prefix}, nil
}

// Get implements Storage.
func (l *LevelDBStorage) Get(_ context.Context, key string) (string, bool, error) {
	v, err := l.db.Get([]byte(l.prefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", key, err)
	}
	return string(v), true, nil
}

// Set implements Storage.
func (l *LevelDBStorage) Set(_ context.Context, key, value string) error {
	if err := l.db.Put([]byte(l.prefix+key), []byte(value), nil); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Close releases the database.
func (l *LevelDBStorage) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
