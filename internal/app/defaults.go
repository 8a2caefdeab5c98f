package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Defaults are the paths used when the config does not say otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SAVESYNC_CONFIG_PATH: config file location (default: ~/.config/savesync.toml)
//   - SAVESYNC_HOME: base directory for catalog, backups and journal (default: ~/.local/share/savesync)
func GetDefaults() (*Defaults, error) {
	homeDir, homeErr := os.UserHomeDir()

	configPath := os.Getenv("SAVESYNC_CONFIG_PATH")
	baseDir := os.Getenv("SAVESYNC_HOME")
	if (configPath == "" || baseDir == "") && homeErr != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", homeErr)
	}
	if configPath == "" {
		configPath = filepath.Join(homeDir, ".config", "savesync.toml")
	}
	if baseDir == "" {
		baseDir = filepath.Join(homeDir, ".local", "share", "savesync")
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// Verbose reports whether SAVESYNC_VERBOSE asks for debug output on stderr.
func Verbose() bool {
	v, _ := strconv.ParseBool(os.Getenv("SAVESYNC_VERBOSE"))
	return v
}
