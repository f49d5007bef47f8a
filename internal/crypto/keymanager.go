// Package crypto implements the Crypto Key Manager: periodic symmetric
// key rotation and AES-128-CBC document-ID encryption used to produce
// the opaque cache directory names handed back to HTTP clients.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

var (
	// ErrRotationInProgress is returned by Rotate when another goroutine
	// already holds the rotation flag; the caller should treat this as
	// "someone else is handling it," not a failure.
	ErrRotationInProgress = errors.New("crypto: rotation already in progress")

	// ErrKeyNotFound is returned when a requested key ID has no entry.
	ErrKeyNotFound = errors.New("crypto: key not found")

	// ErrAmbiguousRecentKey is returned by the "recent" sentinel lookup
	// when any tracked key lacks a timestamp. A key with no timestamp
	// signals corrupted rotation state that should not be silently worked
	// around by skipping it, so the whole lookup is refused instead. See
	// DESIGN.md.
	ErrAmbiguousRecentKey = errors.New("crypto: at least one key lacks a timestamp, refusing to pick most-recent")
)

// KeyStore persists the rotating key set, e.g. to a metadata.json
// sidecar or a row in a small key table.
type KeyStore interface {
	Load() ([]model.CryptoKey, error)
	Save(keys []model.CryptoKey) error
}

// RotationNotifier fans out a rotation event to other replicas, e.g. over
// a pub/sub channel, so their in-memory key caches can be invalidated.
type RotationNotifier interface {
	NotifyRotated(keyID string) error
}

// Manager tracks a rotating set of crypto keys and performs document-ID
// encryption against the currently selected key. keys/lastUpdate are
// guarded by mu since Reload can run concurrently with GetKey calls made
// from destination Processor goroutines, and with Rotate itself.
type Manager struct {
	store      KeyStore
	notifier   RotationNotifier
	maxExpiry  time.Duration
	isRotating atomic.Bool

	mu         sync.RWMutex
	keys       []model.CryptoKey
	lastUpdate time.Time
}

// NewManager constructs a Manager and loads its initial key set from
// store.
func NewManager(store KeyStore, notifier RotationNotifier, maxExpiry time.Duration) (*Manager, error) {
	keys, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("crypto: load initial keys: %w", err)
	}
	return &Manager{store: store, notifier: notifier, maxExpiry: maxExpiry, keys: keys, lastUpdate: time.Now()}, nil
}

// ShouldRotate reports whether enough time has elapsed since the last
// rotation to warrant a new one.
func (m *Manager) ShouldRotate(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return now.Sub(m.lastUpdate) >= m.maxExpiry
}

// Rotate generates a new key and appends it to the tracked set, guarded
// by an atomic compare-and-swap so only one goroutine performs the
// rotation at a time; concurrent callers get ErrRotationInProgress
// immediately rather than blocking.
func (m *Manager) Rotate(now time.Time) error {
	if !m.isRotating.CompareAndSwap(false, true) {
		return ErrRotationInProgress
	}
	defer m.isRotating.Store(false)

	newKey, err := generateKey(now)
	if err != nil {
		return fmt.Errorf("crypto: generate key: %w", err)
	}

	m.mu.RLock()
	updated := append(append([]model.CryptoKey{}, m.keys...), newKey)
	m.mu.RUnlock()
	if err := m.store.Save(updated); err != nil {
		return fmt.Errorf("crypto: persist rotated keys: %w", err)
	}
	m.mu.Lock()
	m.keys = updated
	m.lastUpdate = now
	m.mu.Unlock()

	if m.notifier != nil {
		if err := m.notifier.NotifyRotated(newKey.KeyID); err != nil {
			return fmt.Errorf("crypto: notify rotation: %w", err)
		}
	}
	return nil
}

// Reload re-reads the tracked key set from store, discarding the
// in-memory copy. Called when another replica's rotation notification
// arrives, so this replica's GetKey("recent") picks up the new key
// instead of serving a stale one until its own next ShouldRotate check.
func (m *Manager) Reload() error {
	keys, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("crypto: reload keys: %w", err)
	}
	m.mu.Lock()
	m.keys = keys
	m.mu.Unlock()
	return nil
}

func generateKey(now time.Time) (model.CryptoKey, error) {
	key, err := randomHex(model.HLSNBytesKey)
	if err != nil {
		return model.CryptoKey{}, fmt.Errorf("draw key: %w", err)
	}
	iv, err := randomHex(model.HLSNBytesIV)
	if err != nil {
		return model.CryptoKey{}, fmt.Errorf("draw iv: %w", err)
	}
	keyID, err := randomHex(model.HLSNBytesKeyID)
	if err != nil {
		return model.CryptoKey{}, fmt.Errorf("draw key id: %w", err)
	}
	return model.CryptoKey{
		KeyID:     keyID,
		Key:       key,
		IV:        iv,
		Algorithm: "AES-128-CBC",
		Timestamp: now.Unix(),
	}, nil
}

func randomHex(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	encoded := hex.EncodeToString(buf)
	if len(encoded) != nbytes*2 {
		return "", fmt.Errorf("unexpected hex length %d, want %d", len(encoded), nbytes*2)
	}
	return encoded, nil
}

// GetKey resolves keyID to a tracked key. The sentinel
// model.CryptoKeyMostRecentSentinel picks the entry with the greatest
// timestamp; if ANY tracked entry lacks a timestamp, the whole lookup is
// refused with ErrAmbiguousRecentKey rather than skipping just the
// untimed entries.
func (m *Manager) GetKey(keyID string) (model.CryptoKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if keyID != model.CryptoKeyMostRecentSentinel {
		for _, k := range m.keys {
			if k.KeyID == keyID {
				return k, nil
			}
		}
		return model.CryptoKey{}, ErrKeyNotFound
	}

	var best model.CryptoKey
	found := false
	for _, k := range m.keys {
		if !k.HasTimestamp() {
			return model.CryptoKey{}, ErrAmbiguousRecentKey
		}
		if !found || k.Timestamp > best.Timestamp {
			best = k
			found = true
		}
	}
	if !found {
		return model.CryptoKey{}, ErrKeyNotFound
	}
	return best, nil
}

// EncryptDocumentID encrypts resource's canonical plaintext under key
// using AES-128-CBC with PKCS7 padding, returning the Base64-encoded
// ciphertext used as the opaque cache directory name.
func EncryptDocumentID(resource model.ResourceKey, key model.CryptoKey) (model.EncryptedDocID, error) {
	keyBytes, err := hex.DecodeString(key.Key)
	if err != nil {
		return "", fmt.Errorf("crypto: decode key: %w", err)
	}
	ivBytes, err := hex.DecodeString(key.IV)
	if err != nil {
		return "", fmt.Errorf("crypto: decode iv: %w", err)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}

	plaintext := []byte(resource.PlaintextDocID())
	padded := pkcs7Pad(plaintext, block.BlockSize())

	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, ivBytes)
	mode.CryptBlocks(ciphertext, padded)

	// base64.StdEncoding never emits a trailing newline, so no stripping
	// pass is needed before handing the string back to callers.
	return model.EncryptedDocID(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

// DecryptDocumentID reverses EncryptDocumentID, returning the canonical
// plaintext "<usr_id>/<hex8 upload_req_id>".
func DecryptDocumentID(docID model.EncryptedDocID, key model.CryptoKey) (string, error) {
	keyBytes, err := hex.DecodeString(key.Key)
	if err != nil {
		return "", fmt.Errorf("crypto: decode key: %w", err)
	}
	ivBytes, err := hex.DecodeString(key.IV)
	if err != nil {
		return "", fmt.Errorf("crypto: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(string(docID))
	if err != nil {
		return "", fmt.Errorf("crypto: decode base64: %w", err)
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return "", errors.New("crypto: ciphertext is not a multiple of the block size")
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, ivBytes)
	mode.CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, block.BlockSize())
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("crypto: invalid padded data length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("crypto: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("crypto: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
