package sink

import "errors"

var (
	// ErrNotFound is returned by Get when no record is stored under the key.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown sink backend")
	// ErrEmptyKey is returned when upserting without a natural key.
	ErrEmptyKey = errors.New("empty natural key")
	// ErrNilRecord is returned when upserting a nil record.
	ErrNilRecord = errors.New("nil record")
	// ErrKeyMismatch is returned when a record is upserted under another natural key.
	ErrKeyMismatch = errors.New("natural key mismatch")
)
