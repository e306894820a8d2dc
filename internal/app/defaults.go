package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths locates the notesync config file and data directory on this host.
type Paths struct {
	ConfigFile string
	DataDir    string
}

// DefaultPaths resolves Paths. NOTESYNC_CONFIG_PATH and NOTESYNC_HOME win;
// otherwise XDG_CONFIG_HOME/notesync.toml and XDG_DATA_HOME/notesync, with
// the usual ~/.config and ~/.local/share fallbacks.
func DefaultPaths() (Paths, error) {
	var p Paths
	var err error
	if p.ConfigFile, err = resolve("NOTESYNC_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "notesync.toml"); err != nil {
		return Paths{}, err
	}
	if p.DataDir, err = resolve("NOTESYNC_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "notesync"); err != nil {
		return Paths{}, err
	}
	return p, nil
}

func resolve(override, xdg, homeRel, name string) (string, error) {
	if v := os.Getenv(override); v != "" {
		return v, nil
	}
	if v := os.Getenv(xdg); filepath.IsAbs(v) {
		return filepath.Join(v, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory for %s: %w", name, err)
	}
	return filepath.Join(home, homeRel, name), nil
}
