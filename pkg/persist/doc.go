// Package persist mirrors the state of a container to a storage adapter and
// restores it on startup.
//
// A Store wraps the write entry points of a container. Every accepted write
// updates the container first and then persists the projected state
// ({"state": ..., "version": N}) through the configured storage.JSON adapter.
// Writes are issued in mutation order and their completions are chained, so a
// later write never lands before an earlier one; Flush waits for the last one.
//
// Hydration reads the stored record, migrates it when its version differs from
// Options.Version, merges it into the current state and replaces the container
// state wholesale. It runs once from New unless Options.SkipHydration is set,
// and again on every Rehydrate call. Concurrent triggers are serialised: each
// one runs the full pipeline after the previous pipeline has finished.
//
// Hydration failures never escape as errors to unrelated callers. They are
// delivered to the callback returned by Options.OnRehydrateStorage.
//
// Basic usage:
//
//	opts := persist.DefaultOptions[Counter, Counter]("counter")
//	opts.Version = 1
//	s, err := persist.New(func(set persist.SetFunc[Counter], get func() Counter) Counter {
//	    return Counter{}
//	}, opts, persist.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer s.Close(ctx)
//
//	s.Set(func(c Counter) Counter { c.Count++; return c })
package persist
