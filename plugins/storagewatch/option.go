package storagewatch

import "github.com/bft-labs/statesync/pkg/persist"

// WithStorageWatch returns a persist Option that rehydrates the store when
// its file backend is modified by another process.
//
// Usage:
//
//	s, err := persist.New(init, opts,
//	    storagewatch.WithStorageWatch(storagewatch.Config{
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithStorageWatch(cfg Config) persist.Option {
	return persist.WithPlugin(New(cfg))
}

// WithDefaultStorageWatch enables storage watching with default settings.
func WithDefaultStorageWatch() persist.Option {
	return WithStorageWatch(DefaultConfig())
}
