package persist

import (
	"errors"
	"fmt"
)

// Sentinel errors for persistence operations.
var (
	// ErrStorageUnavailable is reported when a write happens while no storage
	// adapter is configured. The write still applies in memory.
	ErrStorageUnavailable = errors.New("storage is currently unavailable")

	// ErrMissingMigration is reported when the stored version differs from the
	// configured one and no migrate function is set. The stored state is ignored.
	ErrMissingMigration = errors.New("state loaded from storage couldn't be migrated since no migrate function was provided")

	// ErrPartializeRequired is returned by New when the persisted type differs
	// from the state type and no Partialize function is set.
	ErrPartializeRequired = errors.New("partialize is required when the persisted type differs from the state type")

	// ErrNameRequired is returned when Options.Name is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("store is closed")
)

// HydrationError wraps a failure of one hydration run.
type HydrationError struct {
	RunID string
	Phase Phase
	Err   error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydration %s failed while %s: %v", e.RunID, e.Phase, e.Err)
}

func (e *HydrationError) Unwrap() error {
	return e.Err
}
