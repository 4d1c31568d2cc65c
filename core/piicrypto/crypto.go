// Package piicrypto seals the raw PII map with authenticated encryption.
// The map serializes into a deterministic length-prefixed byte framing,
// which AES-256-GCM encrypts under a 96-bit random IV with the fixed
// 8-byte header as additional authenticated data. Key material comes from a
// KeyProvider: in-memory random, passphrase-derived, or caller-supplied.
package piicrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/rehydra-ai/rehydra-go/core/pii"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// IVSize is the GCM nonce length.
	IVSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// serializationVersion identifies the map framing layout.
	serializationVersion = 1
)

// aad is the fixed additional-authenticated-data header binding ciphertexts
// to this format.
var aad = []byte("RHPIIv1\x00")

// CryptoError reports a key or cryptographic failure: bad key length,
// malformed ciphertext, or an authentication-tag mismatch on decryption.
type CryptoError struct {
	Reason string
	Err    error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: %s: %v", e.Reason, e.Err)
	}
	return "crypto: " + e.Reason
}

func (e *CryptoError) Unwrap() error { return e.Err }

// EncryptedMap is the sealed form of a raw PII map. All three fields are
// standard base64.
type EncryptedMap struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
}

// ValidateKey checks the key length.
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return &CryptoError{Reason: fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key))}
	}
	return nil
}

// SecureCompare reports whether two byte slices are equal in constant time.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Serialize renders the map into the canonical framing: a version byte, a
// uvarint entry count, then length-prefixed key and value bytes per entry in
// insertion order. The layout is unambiguous to parse and preserves the
// first-occurrence ordering.
func Serialize(m *pii.RawMap) []byte {
	var b bytes.Buffer
	b.WriteByte(serializationVersion)

	var scratch [binary.MaxVarintLen64]byte
	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		b.Write(scratch[:n])
	}
	writeBytes := func(s string) {
		writeUvarint(uint64(len(s)))
		b.WriteString(s)
	}

	keys := m.Keys()
	writeUvarint(uint64(len(keys)))
	for _, k := range keys {
		v, _ := m.Get(k)
		writeBytes(k)
		writeBytes(v)
	}
	return b.Bytes()
}

// Deserialize parses the canonical framing back into a RawMap.
func Deserialize(data []byte) (*pii.RawMap, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, &CryptoError{Reason: "empty serialization"}
	}
	if version != serializationVersion {
		return nil, &CryptoError{Reason: fmt.Sprintf("unsupported serialization version %d", version)}
	}

	readBytes := func() (string, error) {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return "", err
		}
		if n > uint64(r.Len()) {
			return "", fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, r.Len())
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, &CryptoError{Reason: "reading entry count", Err: err}
	}

	m := pii.NewRawMap()
	for i := uint64(0); i < count; i++ {
		key, err := readBytes()
		if err != nil {
			return nil, &CryptoError{Reason: "reading entry key", Err: err}
		}
		value, err := readBytes()
		if err != nil {
			return nil, &CryptoError{Reason: "reading entry value", Err: err}
		}
		m.Set(key, value)
	}
	if r.Len() != 0 {
		return nil, &CryptoError{Reason: "trailing bytes after last entry"}
	}
	return m, nil
}

// Encrypt seals the map under the key with a fresh random IV.
func Encrypt(m *pii.RawMap, key []byte) (*EncryptedMap, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Reason: "creating cipher", Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CryptoError{Reason: "creating GCM", Err: err}
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, &CryptoError{Reason: "generating IV", Err: err}
	}

	sealed := gcm.Seal(nil, iv, Serialize(m), aad)
	ciphertext := sealed[:len(sealed)-TagSize]
	authTag := sealed[len(sealed)-TagSize:]

	return &EncryptedMap{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(authTag),
	}, nil
}

// Decrypt opens a sealed map. Authentication failure — wrong key or any
// mutation of ciphertext, IV, or tag — surfaces as a CryptoError.
func Decrypt(enc *EncryptedMap, key []byte) (*pii.RawMap, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return nil, &CryptoError{Reason: "decoding ciphertext", Err: err}
	}
	iv, err := base64.StdEncoding.DecodeString(enc.IV)
	if err != nil {
		return nil, &CryptoError{Reason: "decoding IV", Err: err}
	}
	authTag, err := base64.StdEncoding.DecodeString(enc.AuthTag)
	if err != nil {
		return nil, &CryptoError{Reason: "decoding auth tag", Err: err}
	}
	if len(iv) != IVSize {
		return nil, &CryptoError{Reason: fmt.Sprintf("IV must be %d bytes, got %d", IVSize, len(iv))}
	}
	if len(authTag) != TagSize {
		return nil, &CryptoError{Reason: fmt.Sprintf("auth tag must be %d bytes, got %d", TagSize, len(authTag))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Reason: "creating cipher", Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CryptoError{Reason: "creating GCM", Err: err}
	}

	sealed := append(append([]byte{}, ciphertext...), authTag...)
	plaintext, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, &CryptoError{Reason: "authentication failed", Err: err}
	}
	return Deserialize(plaintext)
}

// KeyProvider yields the 32-byte encryption key for map sealing. Providers
// must return the same key for the lifetime of the data they protect.
type KeyProvider interface {
	Key() ([]byte, error)
}

// RandomKeyProvider generates an ephemeral in-memory key on first use. Maps
// sealed under it are unrecoverable after process exit.
type RandomKeyProvider struct {
	key []byte
}

// Key returns the generated key, creating it on first call.
func (p *RandomKeyProvider) Key() ([]byte, error) {
	if p.key == nil {
		k := make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, k); err != nil {
			return nil, &CryptoError{Reason: "generating key", Err: err}
		}
		p.key = k
	}
	return p.key, nil
}

// PBKDF2Iterations is the iteration count for passphrase key derivation.
const PBKDF2Iterations = 100_000

// PassphraseKeyProvider derives the key from a passphrase and salt with
// PBKDF2-SHA-256.
type PassphraseKeyProvider struct {
	Passphrase string
	Salt       []byte
	// Iterations overrides PBKDF2Iterations when larger; smaller values
	// are rejected.
	Iterations int

	derived []byte
}

// Key derives (and caches) the key.
func (p *PassphraseKeyProvider) Key() ([]byte, error) {
	if p.derived != nil {
		return p.derived, nil
	}
	if p.Passphrase == "" {
		return nil, &CryptoError{Reason: "empty passphrase"}
	}
	if len(p.Salt) == 0 {
		return nil, &CryptoError{Reason: "empty salt"}
	}
	iters := p.Iterations
	if iters < PBKDF2Iterations {
		if iters != 0 {
			return nil, &CryptoError{Reason: fmt.Sprintf("iteration count %d below minimum %d", iters, PBKDF2Iterations)}
		}
		iters = PBKDF2Iterations
	}
	p.derived = pbkdf2.Key([]byte(p.Passphrase), p.Salt, iters, KeySize, sha256.New)
	return p.derived, nil
}

// StaticKeyProvider wraps a caller-supplied key from configuration.
type StaticKeyProvider struct {
	K []byte
}

// Key validates and returns the configured key.
func (p StaticKeyProvider) Key() ([]byte, error) {
	if err := ValidateKey(p.K); err != nil {
		return nil, err
	}
	return p.K, nil
}
