package pairstats

import "errors"

// Sentinel kinds for pair statistics errors.
var (
	// ErrMissingAttribute means an input record lacks the id or rating
	// attribute, or carries one of an unusable type. It is a caller data
	// problem and is never retried.
	ErrMissingAttribute = errors.New("missing attribute")

	// ErrNotFound means no statistics or model row exists for a pair.
	ErrNotFound = errors.New("pair not found")
)
