package ingest

import (
	"errors"
	"strings"
)

// ErrValidation is the sentinel all ingest rejections match with errors.Is.
var ErrValidation = errors.New("validation failed")

// FieldError names one rejected field and the rule it broke.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError describes a rejected input. The input is dropped, not retried.
type ValidationError struct {
	Kind   string       `json:"kind"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" ("+f.Rule+")")
	}
	return "invalid " + e.Kind + ": " + strings.Join(parts, ", ")
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
