package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rehydra-ai/rehydra-go/core"
	"github.com/rehydra-ai/rehydra-go/core/pii"
	"github.com/rehydra-ai/rehydra-go/core/piicrypto"
	"github.com/rehydra-ai/rehydra-go/core/rehydrate"
)

// DecryptError reports that the stored session map failed to decrypt: the
// session key changed or the record was tampered with. The stored map is
// unusable; RecoveryHint tells the caller how to proceed.
type DecryptError struct {
	SessionID    string
	RecoveryHint string
	Err          error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("session %s: stored map failed to decrypt (%s): %v", e.SessionID, e.RecoveryHint, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// recoveryHint is the advice attached to every DecryptError.
const recoveryHint = "delete the stored session and retry"

// NewID returns a fresh random session id.
func NewID() string { return uuid.NewString() }

// Session ties an anonymizer to one session id and a storage provider. All
// anonymize calls through the same Session serialize on an internal lock so
// the stored map's read-modify-write stays consistent.
type Session struct {
	id         string
	anonymizer *core.Anonymizer
	storage    StorageProvider
	logger     *slog.Logger

	mu sync.Mutex
}

// Option is a functional option for New.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New binds an anonymizer to a session id over the given storage.
func New(id string, a *core.Anonymizer, storage StorageProvider, opts ...Option) *Session {
	s := &Session{
		id:         id,
		anonymizer: a,
		storage:    storage,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Anonymize runs the pipeline with the session's stored map seeding id
// allocation, then merges this call's entries into the store. Existing keys
// keep their first-seen originals. The store is only written after a fully
// successful call.
func (s *Session) Anonymize(ctx context.Context, text string, opts core.Options) (*core.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, err := s.loadDecrypted(ctx)
	if err != nil {
		return nil, err
	}

	result, callMap, err := s.anonymizer.AnonymizeWithMap(ctx, text, opts, prior)
	if err != nil {
		return nil, err
	}

	merged := prior
	if merged == nil {
		merged = pii.NewRawMap()
	}
	merged.Merge(callMap)

	key, err := s.anonymizer.KeyProvider().Key()
	if err != nil {
		return nil, err
	}
	encrypted, err := piicrypto.Encrypt(merged, key)
	if err != nil {
		return nil, err
	}
	if err := s.storage.Store(ctx, s.id, encrypted); err != nil {
		return nil, err
	}

	// The caller's handle covers the whole session map, not only this
	// call, so rehydration of any output from this session works.
	result.PIIMap = encrypted
	return result, nil
}

// Rehydrate reverses tags in anonymizedText from the stored session map.
func (s *Session) Rehydrate(ctx context.Context, anonymizedText string, strict bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.loadDecrypted(ctx)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return anonymizedText, nil
	}
	return rehydrate.Rehydrate(anonymizedText, stored, strict), nil
}

// loadDecrypted fetches and decrypts the stored map; a missing record
// returns (nil, nil). Decryption failure is a DecryptError; Delete remains
// usable because it never decrypts.
func (s *Session) loadDecrypted(ctx context.Context) (*pii.RawMap, error) {
	encrypted, err := s.storage.Load(ctx, s.id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	key, err := s.anonymizer.KeyProvider().Key()
	if err != nil {
		return nil, err
	}
	raw, err := piicrypto.Decrypt(encrypted, key)
	if err != nil {
		return nil, &DecryptError{SessionID: s.id, RecoveryHint: recoveryHint, Err: err}
	}
	return raw, nil
}

// Delete removes the stored session map. It does not require decryption, so
// it also recovers sessions whose key was lost.
func (s *Session) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.Delete(ctx, s.id)
}

// Exists reports whether a map is stored for this session.
func (s *Session) Exists(ctx context.Context) (bool, error) {
	return s.storage.Exists(ctx, s.id)
}

// Load returns the stored encrypted map without decrypting it.
func (s *Session) Load(ctx context.Context) (*piicrypto.EncryptedMap, error) {
	return s.storage.Load(ctx, s.id)
}
