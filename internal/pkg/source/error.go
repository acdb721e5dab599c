package source

import "errors"

var (
	// ErrEndOfWork is returned by Next when the source is exhausted.
	ErrEndOfWork = errors.New("end of work")
	// ErrInvalidRange is returned for a range whose end is before its start.
	ErrInvalidRange = errors.New("invalid range")
)
