package service

import "errors"

// Sentinel errors returned by the Service.
var (
	// ErrNotStarted means Start has not completed.
	ErrNotStarted = errors.New("service not started")

	// ErrInvalidRecord means an imported line is not a JSON object.
	ErrInvalidRecord = errors.New("invalid record")
)
