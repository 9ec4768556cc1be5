package engagement

import "errors"

// ErrInvalidParams is returned for inconsistent engagement parameters.
var ErrInvalidParams = errors.New("invalid engagement parameters")
