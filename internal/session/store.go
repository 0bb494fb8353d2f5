package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Fixed storage keys for persisted connection state.
const (
	KeyConnectedAddress = "datahaven.connected_address"
	KeySessionToken     = "datahaven.session_token"
)

// Store persists the connected address and session token under fixed keys.
type Store interface {
	Save(address, token string) error
	Load() (address, token string, err error)
	Clear() error
}

// NopStore discards everything. Used when persistence is disabled.
type NopStore struct{}

func (NopStore) Save(_, _ string) error          { return nil }
func (NopStore) Load() (string, string, error)   { return "", "", nil }
func (NopStore) Clear() error                    { return nil }

// FileStore keeps the fixed keys in a small JSON file, standing in for the
// browser's session storage.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Save(address, token string) error {
	payload := map[string]string{
		KeyConnectedAddress: address,
		KeySessionToken:     token,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("session: marshal store: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("session: create store dir: %w", err)
		}
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("session: write store: %w", err)
	}
	return nil
}

func (f *FileStore) Load() (string, string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("session: read store: %w", err)
	}
	payload := map[string]string{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", fmt.Errorf("session: parse store: %w", err)
	}
	return payload[KeyConnectedAddress], payload[KeySessionToken], nil
}

func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: clear store: %w", err)
	}
	return nil
}
