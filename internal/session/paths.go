package session

import (
	"os"
	"path/filepath"
)

// Paths resolves on-disk locations under the daemon data directory.
type Paths struct {
	Base string
}

// Dir returns the session-specific directory.
func (p Paths) Dir(id string) string {
	return filepath.Join(p.Base, "sessions", id)
}

// MediaDir returns the directory for downloaded media of a session.
func (p Paths) MediaDir(id string) string {
	return filepath.Join(p.Dir(id), "media")
}

// ClientDBPath returns the automation client's credential store path.
func (p Paths) ClientDBPath(id string) string {
	return filepath.Join(p.Dir(id), "session.db")
}

// StorePath returns the daemon-owned wpphub.db path.
func (p Paths) StorePath() string {
	return filepath.Join(p.Base, "wpphub.db")
}

// LogPath returns the daemon log file path.
func (p Paths) LogPath() string {
	return filepath.Join(p.Base, "logs", "wpphubd.log")
}

// ConfigPath returns the config file path.
func (p Paths) ConfigPath() string {
	return filepath.Join(p.Base, "config.toml")
}

// EnsureSessionDirs creates the session directory tree with proper
// permissions.
func (p Paths) EnsureSessionDirs(id string) error {
	dirs := []string{
		p.Dir(id),
		p.MediaDir(id),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
