package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound       = errors.New("document not found")
	ErrDuplicateKey   = errors.New("duplicate document key")
	ErrNotNumeric     = errors.New("field is not numeric")
	ErrInvalidKey     = errors.New("invalid document key")
	ErrUnknownBackend = errors.New("unknown store backend")
)
