package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns where the embedded backend keeps its data when no
// directory is configured: $XDG_DATA_HOME/flojobs, /var/lib/flojobs, the
// per-user application data directory on macOS and Windows, or ~/.flojobs.
// Without a home directory it falls back to ./data.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "flojobs")
	}

	if isWritableDir("/var/lib") {
		return "/var/lib/flojobs"
	}

	// macOS
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "FloJobs")
	}

	// Windows
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "FloJobs")
	}

	return filepath.Join(homeDir, ".flojobs")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// isWritableDir reports whether path is a directory we can create entries
// in. /var/lib exists on most Unix hosts but only root may write there.
func isWritableDir(path string) bool {
	if !isDir(path) {
		return false
	}
	f, err := os.CreateTemp(path, ".flojobs-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
