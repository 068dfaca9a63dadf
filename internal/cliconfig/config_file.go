package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations and migration keys
// to make TOML friendly.
//
//	backend = "sqlite"
//	dir = "/var/lib/app"
//	name = "settings"
//	version = 3
//	log_level = "debug"
//
//	[migrations]
//	1 = 'set(state, "count", state.count + 1)'
type FileConfig struct {
	Backend    string            `toml:"backend"`
	Dir        string            `toml:"dir"`
	DSN        string            `toml:"dsn"`
	Table      string            `toml:"table"`
	Async      *bool             `toml:"async"`
	Name       string            `toml:"name"`
	Version    int               `toml:"version"`
	Migrations map[string]string `toml:"migrations"`
	LogLevel   string            `toml:"log_level"`
	Debounce   string            `toml:"debounce"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.statesync/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".statesync", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("backend", fc.Backend, &cfg.Backend)
	s.setString("dir", fc.Dir, &cfg.Dir)
	s.setString("dsn", fc.DSN, &cfg.DSN)
	s.setString("table", fc.Table, &cfg.Table)
	s.setString("name", fc.Name, &cfg.Name)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("state-version", fc.Version, &cfg.Version)
	s.setBool("async", fc.Async, &cfg.Async)

	if err := s.setDuration("debounce", fc.Debounce, &cfg.Debounce); err != nil {
		return err
	}
	return s.setMigrations(fc.Migrations, &cfg.Migrations)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
