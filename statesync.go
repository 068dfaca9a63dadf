// Package statesync keeps an in-memory state container in sync with a
// key-value storage backend.
//
// Example usage:
//
//	opts := statesync.DefaultOptions[Settings, Settings]("settings")
//	opts.Version = 2
//	opts.Migrate = migrateSettings
//	s, err := statesync.New(func(set statesync.SetFunc[Settings], get func() Settings) Settings {
//	    return Settings{Theme: "light"}
//	}, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close(context.Background())
//
//	s.Set(func(cur Settings) Settings { cur.Theme = "dark"; return cur })
package statesync

import (
	"github.com/bft-labs/statesync/pkg/deferred"
	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/migrate"
	"github.com/bft-labs/statesync/pkg/persist"
	"github.com/bft-labs/statesync/pkg/storage"
	"github.com/bft-labs/statesync/pkg/store"
)

// Version is the version of the statesync module as a whole.
const Version = "1.0.0"

// Store wraps a state container and mirrors its writes to storage.
type Store[S, P any] = persist.Store[S, P]

// Options configures what a Store persists and how it hydrates.
type Options[S, P any] = persist.Options[S, P]

// SetFunc applies an update to the container state.
type SetFunc[S any] = persist.SetFunc[S]

// Initializer builds the initial state of a Store.
type Initializer[S any] = persist.Initializer[S]

// Record is the persisted envelope {"state": ..., "version": N}.
type Record = storage.Record

// New creates a Store backed by a fresh in-memory container.
func New[S, P any](init Initializer[S], opts Options[S, P], options ...persist.Option) (*Store[S, P], error) {
	return persist.New(init, opts, options...)
}

// DefaultOptions returns Options persisting under name to the default file backend.
func DefaultOptions[S, P any](name string) Options[S, P] {
	return persist.DefaultOptions[S, P](name)
}

// ModuleVersions returns the version of every sub-module, keyed by module name.
func ModuleVersions() map[string]string {
	return map[string]string{
		"deferred": deferred.Version,
		"storage":  storage.Version,
		"store":    store.Version,
		"persist":  persist.Version,
		"migrate":  migrate.Version,
		"log":      log.Version,
	}
}
