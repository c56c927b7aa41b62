package state

import "errors"

var (
	// ErrAlreadyRegistered is returned when a connection id is registered twice.
	ErrAlreadyRegistered = errors.New("connection is already registered")

	// ErrNotJoined is returned for operations that require a bound session.
	ErrNotJoined = errors.New("connection has not joined")

	// ErrUnknownRoom is returned when a room name is not in the fixed room set.
	ErrUnknownRoom = errors.New("unknown room")
)
