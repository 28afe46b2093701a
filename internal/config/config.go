// Package config loads statekit daemon and CLI settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/micro-nova/statekit/internal/storage"
)

// Defaults applied to any field left at its zero value.
const (
	DefaultAddr           = ":8080"
	DefaultEncodeRate     = 5.0
	DefaultEncodeBurst    = 10
	DefaultMaxUploadBytes = 32 << 20
)

// Config holds all settings. Zero values mean "use the default".
type Config struct {
	// Addr is the HTTP listen address of the daemon.
	Addr string `yaml:"addr"`
	// DataDir holds the durable area (default ~/.config/statekit).
	DataDir string `yaml:"data_dir"`
	// Backend selects the durable area implementation: "file" or "sqlite".
	Backend string `yaml:"backend"`
	// MaxBytes is the durable area quota.
	MaxBytes int64 `yaml:"max_bytes"`
	// SessionMaxBytes is the session area quota.
	SessionMaxBytes int64 `yaml:"session_max_bytes"`
	// MDNS advertises the daemon on the local network.
	MDNS bool `yaml:"mdns"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// EncodeRate and EncodeBurst limit file encode requests per second.
	EncodeRate  float64 `yaml:"encode_rate"`
	EncodeBurst int     `yaml:"encode_burst"`
	// MaxUploadBytes caps an uploaded file.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Default returns a Config with every default filled in.
func Default() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns c with each zero field replaced by its default.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Backend == "" {
		c.Backend = storage.BackendFile
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = storage.DefaultMaxBytes
	}
	if c.SessionMaxBytes <= 0 {
		c.SessionMaxBytes = storage.DefaultMaxBytes
	}
	if c.EncodeRate <= 0 {
		c.EncodeRate = DefaultEncodeRate
	}
	if c.EncodeBurst <= 0 {
		c.EncodeBurst = DefaultEncodeBurst
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return c
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch c.Backend {
	case "", storage.BackendFile, storage.BackendSQLite:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}

// Load reads a YAML config file and fills in defaults. A missing file is not
// an error and yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c.WithDefaults(), nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "statekit")
	}
	return filepath.Join(home, ".config", "statekit")
}
