package durablemap

import "errors"

var (
	// ErrNoSuchKey is returned when the requested key is absent from
	// the keyspace.
	ErrNoSuchKey = errors.New("durablemap: no such key")

	// ErrBackendUnavailable wraps transport and storage failures
	// reported by a Backend. The Map never hides it behind stale cache
	// contents.
	ErrBackendUnavailable = errors.New("durablemap: backend unavailable")

	// ErrEncoding wraps values that cannot be encoded and stored
	// payloads that cannot be decoded.
	ErrEncoding = errors.New("durablemap: encoding failure")

	// ErrInvalidConfiguration is returned by New when a required
	// dependency is missing or does not fit the Map's value type.
	ErrInvalidConfiguration = errors.New("durablemap: invalid configuration")
)
