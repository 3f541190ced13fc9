package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// HandshakeFile stores the worker's startup record at a fixed path.
type HandshakeFile struct {
	path string
}

// NewHandshakeFile creates a handshake store writing to path.
func NewHandshakeFile(path string) *HandshakeFile {
	return &HandshakeFile{path: path}
}

// Path returns the file the worker is pointed at.
func (f *HandshakeFile) Path() string {
	return f.path
}

// Write replaces the handshake file atomically so the worker never
// observes a partially written record.
func (f *HandshakeFile) Write(h domain.InitHandshake) error {
	data, err := json.MarshalIndent(h, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode handshake: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create handshake directory: %w", err)
	}
	return atomicWrite(f.path, data, 0644)
}

// Read loads the handshake file.
func (f *HandshakeFile) Read() (domain.InitHandshake, error) {
	var h domain.InitHandshake
	data, err := os.ReadFile(f.path)
	if err != nil {
		return h, fmt.Errorf("failed to read handshake: %w", err)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("failed to decode handshake: %w", err)
	}
	return h, nil
}

// atomicWrite writes data to a temp file beside path and renames it over path.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	// Unique per process to avoid racing another instance.
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
