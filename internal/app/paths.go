package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths stores resolved runtime file locations for config, logs and profile data.
type Paths struct {
	RootDir    string
	ConfigFile string
	LogFile    string
	DataDir    string
}

// ConfigDir returns the per-user application directory, creating it when missing.
func ConfigDir() (string, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", fmt.Errorf("create app config dir: %w", err)
	}

	return root, nil
}

// ResolvePaths uses the per-user config directory. A non-empty dataDir
// replaces the default data location.
func ResolvePaths(dataDir string) (Paths, error) {
	root, err := ConfigDir()
	if err != nil {
		return Paths{}, err
	}

	data := filepath.Join(root, DataDirName)
	if dataDir = strings.TrimSpace(dataDir); dataDir != "" {
		data = filepath.Clean(dataDir)
	}
	if err := os.MkdirAll(data, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create data dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		LogFile:    filepath.Join(root, LogFilename),
		DataDir:    data,
	}, nil
}

// StateDBPath is the protocol state database of one profile.
func (p Paths) StateDBPath(profileID string) string {
	return StateDBPath(p.DataDir, profileID)
}

func StateDBPath(dataDir, profileID string) string {
	return filepath.Join(dataDir, "profiles", profileID, StateDBFilename)
}
