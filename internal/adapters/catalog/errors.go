package catalog

import "errors"

// ErrInvalidCatalog is returned when a catalog file cannot be used.
var ErrInvalidCatalog = errors.New("invalid content catalog")
