// Package log provides the logging abstraction used across statesync.
//
// The persistence layer never writes to stdout or stderr directly. Warnings
// such as an unavailable storage backend or a persisted record that cannot be
// migrated are reported through a Logger supplied by the caller.
//
// # Usage
//
// Wrap an existing zerolog logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Or discard everything (the default when no logger is configured):
//
//	logger := log.NewNoopLogger()
//
// Loggers can be scoped with extra fields:
//
//	storeLog := logger.With(log.String("store", "app"))
//
// # Version
//
// Current version: 1.1.0
// Minimum compatible version: 1.0.0
package log
