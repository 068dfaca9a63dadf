package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode matches every error produced while decoding a stored record.
	ErrDecode = errors.New("storage: malformed record")

	// ErrNotListable is returned when a backend cannot enumerate its names.
	ErrNotListable = errors.New("storage: backend cannot list names")
)

// DecodeError reports a stored value that is not a valid record.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("storage: decode %q: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) hold for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
