// Package prefs handles casadeck user preferences persistence.
// Preferences are stored in ~/.config/casadeck/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/five82/casadeck/internal/config"
)

// Prefs holds UI preferences that survive restarts.
type Prefs struct {
	Theme     string `toml:"theme"`
	StartView string `toml:"start_view"`
	LogLines  int    `toml:"log_lines"`
}

// Views the TUI can open on after login.
const (
	ViewStatus   = "status"
	ViewApps     = "apps"
	ViewSettings = "settings"
)

const (
	defaultPrefsPath = "~/.config/casadeck/prefs.toml"
	defaultTheme     = "Dracula"
	defaultLogLines  = 200
	maxLogLines      = 5000
)

var startViews = []string{ViewStatus, ViewApps, ViewSettings}

// Default returns the preferences used when no file exists.
func Default() Prefs {
	return Prefs{Theme: defaultTheme, StartView: ViewStatus, LogLines: defaultLogLines}
}

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// Load reads preferences from path. A missing, unreadable or malformed file
// yields defaults; the error is only informational.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Default(), err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("read prefs: %w", err)
	}
	p := Default()
	if err := toml.Unmarshal(raw, &p); err != nil {
		return Default(), fmt.Errorf("parse prefs: %w", err)
	}
	return p.normalize(), nil
}

func (p Prefs) normalize() Prefs {
	if strings.TrimSpace(p.Theme) == "" {
		p.Theme = defaultTheme
	}
	p.StartView = strings.ToLower(strings.TrimSpace(p.StartView))
	if !slices.Contains(startViews, p.StartView) {
		p.StartView = ViewStatus
	}
	if p.LogLines <= 0 {
		p.LogLines = defaultLogLines
	}
	if p.LogLines > maxLogLines {
		p.LogLines = maxLogLines
	}
	return p
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	data, err := toml.Marshal(p.normalize())
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultPrefsPath
	}
	return config.ExpandPath(path)
}
