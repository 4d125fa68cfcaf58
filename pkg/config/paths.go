package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ConfigDir returns the blockfs configuration directory.
func ConfigDir() string {
	if dir := os.Getenv("BLOCKFS_CONFIG_DIR"); dir != "" {
		return dir
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "blockfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".blockfs"
	}
	return filepath.Join(home, ".blockfs")
}

// DefaultConfigPath is the config file picked up when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveConfigPath returns explicit when set, otherwise the default config
// file if it exists, otherwise "".
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return ExpandPath(explicit)
	}
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
