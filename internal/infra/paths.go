package infra

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the documents directory.
const HomeEnv = "LUMITRACKER_HOME"

const (
	appFolderName     = "LumiTracker"
	handshakeFileName = "init.json"
	configFileName    = "config.yaml"
)

// Paths holds every filesystem location the application uses.
type Paths struct {
	AppDir        string // directory of the running executable, worker cwd
	DocumentsDir  string // user-writable root
	LogDir        string
	DataDir       string // key, identity and session database
	HandshakePath string
	ConfigPath    string
}

// DetectPaths resolves locations for the current user.
// $LUMITRACKER_HOME wins over ~/Documents/LumiTracker.
func DetectPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	docs := os.Getenv(HomeEnv)
	if docs == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		docs = filepath.Join(home, "Documents", appFolderName)
	}

	return PathsWithHome(docs, filepath.Dir(exe)), nil
}

// PathsWithHome builds the layout under an explicit documents directory (for testing).
func PathsWithHome(documentsDir, appDir string) *Paths {
	return &Paths{
		AppDir:        appDir,
		DocumentsDir:  documentsDir,
		LogDir:        filepath.Join(documentsDir, "log"),
		DataDir:       filepath.Join(documentsDir, "data"),
		HandshakePath: filepath.Join(documentsDir, handshakeFileName),
		ConfigPath:    filepath.Join(documentsDir, configFileName),
	}
}

// Ensure creates the writable directories.
func (p *Paths) Ensure() error {
	for _, dir := range []string{p.DocumentsDir, p.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(p.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", p.DataDir, err)
	}
	return nil
}
