package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound           = errors.New("state not found")
	ErrConcurrencyTimeout = errors.New("timed out waiting for state lock")
	ErrStaleState         = errors.New("state was archived and has been recreated")
)
