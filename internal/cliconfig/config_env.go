package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (STATESYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("backend", os.Getenv("STATESYNC_BACKEND"), &cfg.Backend)
	s.setString("dir", os.Getenv("STATESYNC_DIR"), &cfg.Dir)
	s.setString("dsn", os.Getenv("STATESYNC_DSN"), &cfg.DSN)
	s.setString("table", os.Getenv("STATESYNC_TABLE"), &cfg.Table)
	s.setString("name", os.Getenv("STATESYNC_NAME"), &cfg.Name)
	s.setString("log-level", os.Getenv("STATESYNC_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("state-version", os.Getenv("STATESYNC_VERSION"), &cfg.Version); err != nil {
		return err
	}
	if err := s.setDuration("debounce", os.Getenv("STATESYNC_DEBOUNCE"), &cfg.Debounce); err != nil {
		return err
	}

	s.setBoolFromString("async", os.Getenv("STATESYNC_ASYNC"), &cfg.Async)

	return nil
}
