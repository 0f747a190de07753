package blu

import (
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// Persisted keys.
const (
	KeyPhoneNumber  = "phoneNumber"
	KeyUserProfile  = "user_profile"
	KeyIsRegistered = "isRegistered"
	KeyUserTheme    = "user_theme"
)

// Store is synchronous string key-value persistence. Writes are atomic per
// key; there are no multi-key transactions, so two keys written "together"
// may land separately and callers must tolerate partial state.
//
// Subscribe registers a callback invoked with the changed key on every Set
// or Delete. Backends that support it (Redis) also deliver changes made by
// other processes sharing the same store.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Subscribe(fn func(key string)) (unsubscribe func())
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore is a goroutine-safe in-memory Store. It does not survive
// restarts; use FileStore or RedisStore for durable state.
type MemoryStore struct {
	mu        sync.RWMutex
	values    map[string]string
	listeners map[int]func(key string)
	nextID    int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:    make(map[string]string),
		listeners: make(map[int]func(string)),
	}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.notify(key)
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	s.notify(key)
}

func (s *MemoryStore) Subscribe(fn func(key string)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *MemoryStore) notify(key string) {
	s.mu.RLock()
	handlers := make([]func(string), 0, len(s.listeners))
	for _, h := range s.listeners {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(key)
	}
}

// ============================================================================
// FileStore
// ============================================================================

// fileState is the on-disk shape of a FileStore.
type fileState struct {
	Values map[string]string `toml:"values"`
}

// FileStore is a Store persisted as a TOML file, surviving restarts. Every
// Set and Delete rewrites the file. Change notifications are same-process
// only.
type FileStore struct {
	MemoryStore
	path string

	errMu   sync.Mutex
	lastErr error
}

// NewFileStore opens (or creates) a TOML-backed store at path. Parent
// directories are created as needed.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	s.values = make(map[string]string)
	s.listeners = make(map[int]func(string))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var state fileState
	if err := toml.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Values != nil {
		s.values = state.Values
	}
	return s, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	err := s.persistLocked()
	s.mu.Unlock()
	s.recordErr(err)
	s.notify(key)
}

func (s *FileStore) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	err := s.persistLocked()
	s.mu.Unlock()
	s.recordErr(err)
	s.notify(key)
}

// Err returns the most recent persistence failure, if any. The synchronous
// Store contract has no error returns, so write failures surface here.
func (s *FileStore) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *FileStore) persistLocked() error {
	data, err := toml.Marshal(fileState{Values: s.values})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileStore) recordErr(err error) {
	s.errMu.Lock()
	if err != nil {
		s.lastErr = err
	}
	s.errMu.Unlock()
}
