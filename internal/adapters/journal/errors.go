package journal

import "errors"

var (
	// ErrUnavailable is returned when the journal cannot be opened or has been
	// closed.
	ErrUnavailable = errors.New("journal unavailable")
	// ErrBufferFull is returned when an entry is dropped because the write
	// buffer is full.
	ErrBufferFull = errors.New("journal buffer full")
	// ErrCorrupted is returned when a stored entry cannot be decoded.
	ErrCorrupted = errors.New("journal entry corrupted")
)
