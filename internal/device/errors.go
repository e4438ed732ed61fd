package device

import "errors"

var (
	// ErrSocketNotFound is returned for an unknown socket ID.
	ErrSocketNotFound = errors.New("device: socket not found")

	// ErrDuplicateSocket is returned when two sockets share an ID.
	ErrDuplicateSocket = errors.New("device: duplicate socket")

	// ErrInvalidSocket is returned for a socket without ID or device UID.
	ErrInvalidSocket = errors.New("device: invalid socket")
)
