package cliconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bft-labs/statesync/pkg/storage"
)

// Backend names accepted by Config.Backend.
const (
	BackendDir    = "dir"
	BackendMmap   = "mmap"
	BackendSQLite = "sqlite"
)

// DefaultName is the record name used when none is configured.
const DefaultName = "app"

// Config holds CLI configuration for statesync.
type Config struct {
	Backend string
	Dir     string
	DSN     string
	Table   string
	Async   bool

	Name       string
	Version    int
	Migrations map[int]string

	LogLevel string
	Debounce time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendDir,
		Table:    storage.DefaultTable,
		Name:     DefaultName,
		LogLevel: "info",
		Debounce: 100 * time.Millisecond,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDir, BackendMmap, BackendSQLite:
	case "":
		c.Backend = BackendDir
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendDir, BackendMmap, BackendSQLite)
	}

	if c.Dir == "" {
		dir, err := storage.DefaultDir()
		if err != nil {
			return fmt.Errorf("dir is required: %w", err)
		}
		c.Dir = dir
	}

	if c.Backend == BackendSQLite && c.DSN == "" {
		c.DSN = filepath.Join(c.Dir, "statesync.db")
	}
	if c.Table == "" {
		c.Table = storage.DefaultTable
	}

	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Version < 0 {
		return fmt.Errorf("version must not be negative")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive")
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// setMigrations converts string-keyed steps to version-keyed steps and adds
// them to dst. Keys must be integers.
func (s *configSetter) setMigrations(steps map[string]string, dst *map[int]string) error {
	if len(steps) == 0 {
		return nil
	}
	if *dst == nil {
		*dst = make(map[int]string, len(steps))
	}
	for key, expression := range steps {
		from, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("parse migrations: version %q: %w", key, err)
		}
		(*dst)[from] = expression
	}
	return nil
}
