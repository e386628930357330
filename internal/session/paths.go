package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.clinchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clinchat")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the engine log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "clinchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
