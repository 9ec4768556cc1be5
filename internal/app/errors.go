package service

import (
	"errors"
	"fmt"

	"github.com/okian/amep/internal/adapters/repository"
)

var (
	// ErrBackpressure is returned when the async event queue is full.
	ErrBackpressure = errors.New("event queue full, retry later")
	// ErrUnknownClass is returned for a class with no tracked students. It
	// matches repository.ErrNotFound.
	ErrUnknownClass = fmt.Errorf("unknown class: %w", repository.ErrNotFound)
)
