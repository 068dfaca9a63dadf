package persist

import (
	"context"

	"github.com/bft-labs/statesync/pkg/deferred"
	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/storage"
)

// Plugin extends a Store with optional behavior.
// Plugins are initialized in registration order when the Store is created
// and shut down in reverse order by Close.
type Plugin interface {
	// Name returns a unique identifier for the plugin.
	Name() string

	// Initialize is called once the Store is ready. The context is cancelled
	// when the Store is closed.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown releases plugin resources.
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin can see of its Store.
type PluginConfig struct {
	// Name is the storage key the Store persists under.
	Name string

	// Backend is the raw backend of the storage configured at creation time.
	// It is nil when the Store has no storage.
	Backend storage.Backend

	Logger log.Logger

	// Rehydrate triggers a hydration run.
	Rehydrate func() *deferred.Deferred[struct{}]

	// LastPersisted returns the last payload this Store wrote successfully.
	LastPersisted func() (value string, ok bool)
}

// StorageObserver is implemented by plugins that need to follow the store
// when SetOptions replaces the storage or changes the name. cfg describes the
// new target.
type StorageObserver interface {
	OnStorageChange(ctx context.Context, cfg PluginConfig) error
}
