package crypto

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

// FileKeyStore persists the tracked key set as a JSON file, the Go
// analogue of the metadata.json sidecar written once per cache entry.
type FileKeyStore struct {
	Path string
}

func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{Path: path}
}

func (s *FileKeyStore) Load() ([]model.CryptoKey, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: read key store %s: %w", s.Path, err)
	}
	var keys []model.CryptoKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("crypto: parse key store %s: %w", s.Path, err)
	}
	return keys, nil
}

func (s *FileKeyStore) Save(keys []model.CryptoKey) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("crypto: mkdir key store dir: %w", err)
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("crypto: marshal key store: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("crypto: write key store: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
