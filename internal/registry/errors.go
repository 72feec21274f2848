package registry

import "errors"

var (
	// ErrInvalidName means the stack name failed validation or resolved
	// outside the registry root.
	ErrInvalidName = errors.New("invalid stack name")
	// ErrNotFound means no stack with that name exists under the root.
	ErrNotFound = errors.New("stack not found")
	// ErrAlreadyExists means a directory with that name already exists.
	ErrAlreadyExists = errors.New("stack already exists")
	// ErrBusy means an operation currently holds the stack's gate.
	ErrBusy = errors.New("stack is busy")
)
