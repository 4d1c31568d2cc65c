package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rehydra-ai/rehydra-go/core"
	"github.com/rehydra-ai/rehydra-go/core/piicrypto"
)

func testKey(fill byte) []byte {
	k := make([]byte, piicrypto.KeySize)
	for i := range k {
		k[i] = fill
	}
	return k
}

func newAnonymizer(t *testing.T, key []byte) *core.Anonymizer {
	t.Helper()
	a, err := core.New(core.DefaultConfig(), core.WithKeyProvider(piicrypto.StaticKeyProvider{K: key}))
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == "" || a == b {
		t.Fatalf("ids must be unique and non-empty: %q %q", a, b)
	}
}

func TestSession_IDReuseAcrossCalls(t *testing.T) {
	ctx := context.Background()
	a := newAnonymizer(t, testKey(1))
	s := New("s1", a, NewMemoryStorage())

	res1, err := s.Anonymize(ctx, "Email: a@b.com", core.Options{})
	if err != nil {
		t.Fatalf("call 1: %v", err)
	}
	if !strings.Contains(res1.AnonymizedText, `<PII type="EMAIL" id="1"/>`) {
		t.Fatalf("call 1 output %q", res1.AnonymizedText)
	}

	res2, err := s.Anonymize(ctx, "Reply to a@b.com and c@d.com", core.Options{})
	if err != nil {
		t.Fatalf("call 2: %v", err)
	}
	if !strings.Contains(res2.AnonymizedText, `<PII type="EMAIL" id="1"/>`) {
		t.Fatalf("repeated value must reuse id 1: %q", res2.AnonymizedText)
	}
	if !strings.Contains(res2.AnonymizedText, `<PII type="EMAIL" id="2"/>`) {
		t.Fatalf("new value must get id 2: %q", res2.AnonymizedText)
	}

	// The stored map holds both originals.
	stored, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw, err := piicrypto.Decrypt(stored, testKey(1))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if v, _ := raw.Get("EMAIL_1"); v != "a@b.com" {
		t.Fatalf("EMAIL_1 = %q", v)
	}
	if v, _ := raw.Get("EMAIL_2"); v != "c@d.com" {
		t.Fatalf("EMAIL_2 = %q", v)
	}

	// Rehydration of call 2's output uses the stored map.
	restored, err := s.Rehydrate(ctx, res2.AnonymizedText, false)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if restored != "Reply to a@b.com and c@d.com" {
		t.Fatalf("Rehydrate = %q", restored)
	}
}

func TestSession_ExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	a := newAnonymizer(t, testKey(1))
	s := New("s1", a, NewMemoryStorage())

	if ok, _ := s.Exists(ctx); ok {
		t.Fatal("fresh session must not exist")
	}
	if _, err := s.Anonymize(ctx, "a@b.com", core.Options{}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx); !ok {
		t.Fatal("session must exist after anonymize")
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx); ok {
		t.Fatal("session must be gone after delete")
	}
}

func TestSession_DecryptErrorOnKeyChange(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	s1 := New("s1", newAnonymizer(t, testKey(1)), storage)
	if _, err := s1.Anonymize(ctx, "a@b.com", core.Options{}); err != nil {
		t.Fatal(err)
	}

	// Same session id, different key.
	s2 := New("s1", newAnonymizer(t, testKey(2)), storage)
	_, err := s2.Anonymize(ctx, "c@d.com", core.Options{})
	var decryptErr *DecryptError
	if !errors.As(err, &decryptErr) {
		t.Fatalf("expected DecryptError, got %v", err)
	}
	if decryptErr.RecoveryHint == "" {
		t.Fatal("DecryptError must carry a recovery hint")
	}

	// Delete does not need decryption, so the hinted recovery works.
	if err := s2.Delete(ctx); err != nil {
		t.Fatalf("Delete after decrypt failure: %v", err)
	}
	if _, err := s2.Anonymize(ctx, "c@d.com", core.Options{}); err != nil {
		t.Fatalf("anonymize after recovery: %v", err)
	}
}

func TestSession_RehydrateWithoutStore(t *testing.T) {
	ctx := context.Background()
	s := New("empty", newAnonymizer(t, testKey(1)), NewMemoryStorage())
	in := `hello <PII type="EMAIL" id="1"/>`
	out, err := s.Rehydrate(ctx, in, false)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if out != in {
		t.Fatalf("empty session must leave text untouched, got %q", out)
	}
}

func TestMemoryStorage(t *testing.T) {
	testStorageProvider(t, NewMemoryStorage())
}

func TestBoltStorage(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	testStorageProvider(t, store)
}

func TestBoltStorage_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	m := &piicrypto.EncryptedMap{Ciphertext: "YWJj", IV: "aXY=", AuthTag: "dGFn"}
	if err := store.Store(ctx, "s1", m); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got.Ciphertext != m.Ciphertext {
		t.Fatalf("persisted map = %+v", got)
	}
}

func testStorageProvider(t *testing.T, store StorageProvider) {
	t.Helper()
	ctx := context.Background()
	m := &piicrypto.EncryptedMap{Ciphertext: "Y3Q=", IV: "aXY=", AuthTag: "dGFn"}

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) = %v, want ErrNotFound", err)
	}
	if ok, err := store.Exists(ctx, "missing"); err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}

	if err := store.Store(ctx, "k", m); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := store.Load(ctx, "k")
	if err != nil || got.IV != m.IV {
		t.Fatalf("Load = %+v, %v", got, err)
	}
	if ok, _ := store.Exists(ctx, "k"); !ok {
		t.Fatal("Exists after store = false")
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after delete = %v, want ErrNotFound", err)
	}
	// Deleting again is a no-op.
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
