package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/five82/casadeck/internal/casaos"
)

// Config holds casadeck's client settings. Server address and credentials
// are not here; they live in the credential store.
type Config struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	LogFile        string
	Store          StoreConfig
	TLS            TLSConfig
}

// StoreConfig locates the credential store.
type StoreConfig struct {
	Path     string
	Keychain bool
}

// TLSConfig controls certificate verification.
type TLSConfig struct {
	CACert             string
	InsecureSkipVerify bool
}

const (
	defaultConfigPath     = "~/.config/casadeck/config.toml"
	defaultStorePath      = "~/.local/share/casadeck/credentials.db"
	defaultLogFile        = "~/.local/state/casadeck/casadeck.log"
	defaultPollInterval   = 5 * time.Second
	defaultRequestTimeout = casaos.DefaultTimeout
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// Default returns the settings used when no config file exists.
func Default() Config {
	return Config{
		PollInterval:   defaultPollInterval,
		RequestTimeout: defaultRequestTimeout,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
		LogFile:        mustExpand(defaultLogFile),
		Store:          StoreConfig{Path: mustExpand(defaultStorePath)},
	}
}

// Load locates and parses the config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		PollInterval   string `toml:"poll_interval"`
		RequestTimeout string `toml:"request_timeout"`
		LogLevel       string `toml:"log_level"`
		LogFormat      string `toml:"log_format"`
		LogFile        string `toml:"log_file"`
		Store          struct {
			Path     string `toml:"path"`
			Keychain bool   `toml:"keychain"`
		} `toml:"store"`
		TLS struct {
			CACert             string `toml:"ca_cert"`
			InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
		} `toml:"tls"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.PollInterval, err = parseDuration("poll_interval", raw.PollInterval, defaultPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = parseDuration("request_timeout", raw.RequestTimeout, defaultRequestTimeout); err != nil {
		return Config{}, err
	}

	if level := strings.ToLower(strings.TrimSpace(raw.LogLevel)); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			return Config{}, fmt.Errorf("parse config: log_level %q must be debug, info, warn or error", raw.LogLevel)
		}
	}
	if format := strings.ToLower(strings.TrimSpace(raw.LogFormat)); format != "" {
		if format != "json" && format != "console" {
			return Config{}, fmt.Errorf("parse config: log_format %q must be json or console", raw.LogFormat)
		}
		cfg.LogFormat = format
	}
	if p := strings.TrimSpace(raw.LogFile); p != "" {
		cfg.LogFile = mustExpand(p)
	}
	if p := strings.TrimSpace(raw.Store.Path); p != "" {
		cfg.Store.Path = mustExpand(p)
	}
	cfg.Store.Keychain = raw.Store.Keychain
	if p := strings.TrimSpace(raw.TLS.CACert); p != "" {
		cfg.TLS.CACert = mustExpand(p)
	}
	cfg.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify

	return cfg, nil
}

// TransportOptions maps the settings onto casaos transport options.
func (c Config) TransportOptions() casaos.TransportOptions {
	return casaos.TransportOptions{
		Timeout: c.RequestTimeout,
		TLS: casaos.TLSOptions{
			CACertPath:         c.TLS.CACert,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return mustExpand(defaultConfigPath)
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse config: %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse config: %s must be positive, got %s", field, trimmed)
	}
	return d, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
