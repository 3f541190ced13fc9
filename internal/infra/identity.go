package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

const identityFileName = "client_id"

// FileIdentityProvider persists the relay client id as UUID text.
type FileIdentityProvider struct {
	path string
}

// NewFileIdentityProvider stores the id under dataDir.
func NewFileIdentityProvider(dataDir string) *FileIdentityProvider {
	return &FileIdentityProvider{path: filepath.Join(dataDir, identityFileName)}
}

// ClientID returns the stored id or generates and stores a new one.
// A corrupt file is replaced.
func (p *FileIdentityProvider) ClientID() (string, bool, error) {
	data, err := os.ReadFile(p.path)
	switch {
	case err == nil:
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id.String(), false, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", false, fmt.Errorf("failed to read client id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return "", false, fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := atomicWrite(p.path, []byte(id), 0600); err != nil {
		return "", false, fmt.Errorf("failed to write client id: %w", err)
	}
	return id, true, nil
}

var _ domain.IdentityProvider = (*FileIdentityProvider)(nil)
