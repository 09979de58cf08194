package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	// ErrFull means the queue is at capacity.
	ErrFull = errors.New("queue full")
	// ErrClosed means the queue no longer accepts observations.
	ErrClosed = errors.New("queue closed")
)
