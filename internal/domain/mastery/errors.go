package mastery

import "errors"

var (
	// ErrInvalidParams is returned for estimator parameters that break its invariants.
	ErrInvalidParams = errors.New("invalid mastery parameters")
	// ErrKeyMismatch is returned when an event is applied to another key's state.
	ErrKeyMismatch = errors.New("event does not belong to state")
	// ErrUnknownEstimator is returned for an unsupported estimator name.
	ErrUnknownEstimator = errors.New("unknown estimator")
)
