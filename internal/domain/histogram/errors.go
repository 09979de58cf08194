package histogram

import "errors"

// Sentinel errors for histogram builds and queries.
var (
	// ErrInvalidBinSpec means the request is malformed: a bin key that is
	// not grouped, a bin count that is not a positive integer, or missing
	// group keys or result name. Raised before any store mutation.
	ErrInvalidBinSpec = errors.New("invalid bin spec")

	// ErrDegenerateRange means a binned key has max <= min after bound
	// discovery. The result collection is left dropped.
	ErrDegenerateRange = errors.New("degenerate bin range")

	// ErrNotFound means no bucket satisfies a quantile query.
	ErrNotFound = errors.New("no bucket found")
)
