// Package session binds an anonymizer to a persistent encrypted PII map so
// ids stay stable across calls: each anonymize loads the stored map, seeds
// id allocation from it, merges the new entries, and stores the re-encrypted
// result. Storage is a small key-value interface with in-memory and bbolt
// implementations.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/rehydra-ai/rehydra-go/core/piicrypto"
)

// ErrNotFound reports that no map is stored for a session id.
var ErrNotFound = errors.New("session not found")

// StorageError wraps a storage-backend failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// StorageProvider persists encrypted PII maps by session id. Load returns
// ErrNotFound (possibly wrapped) for unknown ids. Implementations must be
// safe for concurrent use.
type StorageProvider interface {
	Load(ctx context.Context, sessionID string) (*piicrypto.EncryptedMap, error)
	Store(ctx context.Context, sessionID string, m *piicrypto.EncryptedMap) error
	Delete(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// MemoryStorage is a map-backed StorageProvider for tests and single-process
// use.
type MemoryStorage struct {
	mu   sync.RWMutex
	maps map[string]piicrypto.EncryptedMap
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{maps: make(map[string]piicrypto.EncryptedMap)}
}

// Load returns the stored map for sessionID.
func (s *MemoryStorage) Load(_ context.Context, sessionID string) (*piicrypto.EncryptedMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.maps[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := m
	return &out, nil
}

// Store saves the map for sessionID.
func (s *MemoryStorage) Store(_ context.Context, sessionID string, m *piicrypto.EncryptedMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps[sessionID] = *m
	return nil
}

// Delete removes the map for sessionID. Deleting an absent id is a no-op.
func (s *MemoryStorage) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.maps, sessionID)
	return nil
}

// Exists reports whether a map is stored for sessionID.
func (s *MemoryStorage) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.maps[sessionID]
	return ok, nil
}

// sessionsBucket is the bbolt bucket holding encrypted maps.
var sessionsBucket = []byte("sessions")

// BoltStorage persists encrypted maps in a bbolt file, surviving process
// restarts.
type BoltStorage struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the bbolt database at path.
func OpenBolt(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &StorageError{Op: "init", Err: err}
	}
	return &BoltStorage{db: db}, nil
}

// Close releases the database file.
func (s *BoltStorage) Close() error { return s.db.Close() }

// Load returns the stored map for sessionID.
func (s *BoltStorage) Load(_ context.Context, sessionID string) (*piicrypto.EncryptedMap, error) {
	var out *piicrypto.EncryptedMap
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(sessionID))
		if data == nil {
			return ErrNotFound
		}
		var m piicrypto.EncryptedMap
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("corrupt record: %w", err)
		}
		out = &m
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	return out, nil
}

// Store saves the map for sessionID.
func (s *BoltStorage) Store(_ context.Context, sessionID string, m *piicrypto.EncryptedMap) error {
	data, err := json.Marshal(m)
	if err != nil {
		return &StorageError{Op: "store", Err: err}
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(sessionID), data)
	})
	if err != nil {
		return &StorageError{Op: "store", Err: err}
	}
	return nil
}

// Delete removes the map for sessionID without reading it.
func (s *BoltStorage) Delete(_ context.Context, sessionID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(sessionID))
	})
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

// Exists reports whether a map is stored for sessionID.
func (s *BoltStorage) Exists(_ context.Context, sessionID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(sessionsBucket).Get([]byte(sessionID)) != nil
		return nil
	})
	if err != nil {
		return false, &StorageError{Op: "exists", Err: err}
	}
	return found, nil
}
