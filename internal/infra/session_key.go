package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

const (
	sessionKeyFile = ".session_key"
	sessionKeySize = 32 // SQLCipher raw key
)

// ErrSessionKeyExists is returned by Create when a key is already stored.
var ErrSessionKeyExists = errors.New("session key already exists")

// FileSessionKey stores the session database key base64-encoded in the
// data directory, readable by the current user only.
type FileSessionKey struct {
	path string
}

func NewFileSessionKey(dataDir string) *FileSessionKey {
	return &FileSessionKey{path: filepath.Join(dataDir, sessionKeyFile)}
}

func (k *FileSessionKey) Load() ([]byte, error) {
	encoded, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode session key %s: %w", k.path, err)
	}
	if len(key) != sessionKeySize {
		return nil, fmt.Errorf("session key %s has %d bytes, want %d", k.path, len(key), sessionKeySize)
	}
	return key, nil
}

// Create writes a fresh key. The file is opened exclusively, so two
// processes starting at once cannot end up with different keys.
func (k *FileSessionKey) Create() ([]byte, error) {
	key, err := newSessionKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.OpenFile(k.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		return nil, ErrSessionKeyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create session key: %w", err)
	}
	if _, err := f.WriteString(base64.StdEncoding.EncodeToString(key)); err != nil {
		f.Close()
		os.Remove(k.path)
		return nil, fmt.Errorf("failed to write session key: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(k.path)
		return nil, fmt.Errorf("failed to write session key: %w", err)
	}
	return key, nil
}

// OpenSessionKey loads the session database key, creating it on first run.
// A key that exists but cannot be read is an error; it is never replaced.
func OpenSessionKey(store domain.SessionKeyStore) ([]byte, error) {
	key, err := store.Load()
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return key, err
	}
	key, err = store.Create()
	if errors.Is(err, ErrSessionKeyExists) {
		// Another process won the race.
		return store.Load()
	}
	return key, err
}

func newSessionKey() ([]byte, error) {
	key := make([]byte, sessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return key, nil
}

var _ domain.SessionKeyStore = (*FileSessionKey)(nil)
