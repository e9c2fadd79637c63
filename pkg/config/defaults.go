package config

import (
	"os"
	"path/filepath"
)

// DefaultsManager picks default locations for the data directory and jobs file
type DefaultsManager struct {
	workingDir string
	homeDir    string
}

// NewDefaultsManager creates a new defaults manager
func NewDefaultsManager() *DefaultsManager {
	wd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	return &DefaultsManager{
		workingDir: wd,
		homeDir:    home,
	}
}

// DataDir returns the directory holding the snapshot store.
// A .vahti directory in the working directory takes precedence over the home one.
func (dm *DefaultsManager) DataDir() string {
	local := filepath.Join(dm.workingDir, ".vahti")
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local
	}

	if dm.homeDir == "" {
		return "./.vahti" // Fallback to current directory
	}

	return filepath.Join(dm.homeDir, ".vahti")
}

// JobsFile returns the default jobs file: jobs.yaml in the working directory
// if present, else jobs.yaml in the data directory.
func (dm *DefaultsManager) JobsFile() string {
	for _, name := range []string{"jobs.yaml", "jobs.yml"} {
		candidate := filepath.Join(dm.workingDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(dm.DataDir(), "jobs.yaml")
}
