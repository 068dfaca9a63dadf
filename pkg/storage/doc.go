// Package storage adapts raw key-value backends into versioned record storage.
//
// A Backend stores opaque strings under names. The JSON adapter layers the
// persisted record format on top of it:
//
//	{"state": <projected state>, "version": <integer>}
//
// Backends are synchronous by default: the adapter calls them on the caller's
// goroutine and returns already-settled deferred results. Wrap a backend with
// Async to have every call run on its own goroutine instead, which suits
// network or database backed stores.
//
// # Backends
//
//   - Memory: in-process map, for tests and examples
//   - Dir: one JSON file per name, written atomically (temp file, fsync, rename)
//   - Mmap: like Dir, but reads go through a read-only memory map
//   - SQL: a single table in any database/sql database using "?" placeholders
//
// # Usage
//
//	adapter := storage.NewJSON(storage.Default())
//	if adapter == nil {
//	    // backend unavailable; persistence is disabled
//	}
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package storage
