package planner

import "errors"

var (
	// ErrInsufficientContent is returned when no catalog item can be planned.
	// The accompanying session is empty, not nil.
	ErrInsufficientContent = errors.New("insufficient content for session")
	// ErrInvalidParams is returned for inconsistent planner parameters.
	ErrInvalidParams = errors.New("invalid planner parameters")
)
