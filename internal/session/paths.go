package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.shopchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".shopchat")
}

// Dir returns the per-user client directory.
func Dir(user string) string {
	return filepath.Join(BaseDir(), "users", user)
}

// LogDir returns the client log directory for a user.
func LogDir(user string) string {
	return filepath.Join(Dir(user), "logs")
}

// LogPath returns the client log file path for a user.
func LogPath(user string) string {
	return filepath.Join(LogDir(user), "chat.log")
}

// HubDir returns the default hub data directory.
func HubDir() string {
	return filepath.Join(BaseDir(), "hub")
}

// HubDBPath returns the SQLite database path inside dataDir.
func HubDBPath(dataDir string) string {
	return filepath.Join(dataDir, "chathub.db")
}

// HubLogPath returns the hub log file path inside dataDir.
func HubLogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "chathub.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the user directory tree with proper permissions.
func EnsureDir(user string) error {
	for _, d := range []string{Dir(user), LogDir(user)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
