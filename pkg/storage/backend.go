package storage

import (
	"context"
	"os"
	"path/filepath"
)

// Backend is the raw key-value capability the adapter persists through.
type Backend interface {
	// GetItem returns the stored value. ok is false when nothing is stored under name.
	GetItem(ctx context.Context, name string) (value string, ok bool, err error)

	// SetItem stores value under name, replacing any previous value.
	SetItem(ctx context.Context, name, value string) error

	// RemoveItem deletes name. Removing a missing name is not an error.
	RemoveItem(ctx context.Context, name string) error
}

// Lister is implemented by backends that can enumerate stored names.
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}

// Factory produces a Backend. A factory returning an error signals that the
// backend is unavailable.
type Factory func() (Backend, error)

// Static returns a Factory that always yields b.
func Static(b Backend) Factory {
	return func() (Backend, error) { return b, nil }
}

// DefaultDir returns the directory used by the default file backend:
// <user config dir>/statesync.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "statesync"), nil
}

// Default returns a Factory for the local persistent file backend rooted at
// DefaultDir. It fails when the user config directory cannot be determined.
func Default() Factory {
	return func() (Backend, error) {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		return NewDir(dir), nil
	}
}

type asyncBackend struct {
	Backend
}

// Async marks b as asynchronous: the JSON adapter dispatches each call on its
// own goroutine instead of blocking the caller.
func Async(b Backend) Backend {
	if b == nil || IsAsync(b) {
		return b
	}
	return asyncBackend{Backend: b}
}

// IsAsync reports whether b was wrapped with Async.
func IsAsync(b Backend) bool {
	_, ok := b.(asyncBackend)
	return ok
}

// Unwrap returns the wrapped backend.
func (a asyncBackend) Unwrap() Backend { return a.Backend }

// Names forwards to the wrapped backend when it is a Lister.
func (a asyncBackend) Names(ctx context.Context) ([]string, error) {
	if l, ok := a.Backend.(Lister); ok {
		return l.Names(ctx)
	}
	return nil, ErrNotListable
}
