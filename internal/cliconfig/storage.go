package cliconfig

import (
	"os"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/bft-labs/statesync/pkg/storage"
)

// StorageFactory returns the backend factory selected by the configuration.
// Call Validate first.
func (c *Config) StorageFactory() storage.Factory {
	var factory storage.Factory
	switch c.Backend {
	case BackendMmap:
		factory = storage.Static(storage.NewMmap(c.Dir))
	case BackendSQLite:
		open := storage.OpenSQL("sqlite3", c.DSN, storage.WithTable(c.Table))
		dir := c.Dir
		factory = func() (storage.Backend, error) {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, err
			}
			return open()
		}
	default:
		factory = storage.Static(storage.NewDir(c.Dir))
	}
	if !c.Async {
		return factory
	}
	return func() (storage.Backend, error) {
		b, err := factory()
		if err != nil {
			return nil, err
		}
		return storage.Async(b), nil
	}
}
