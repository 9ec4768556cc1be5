// Package model contains domain models passed between layers.
package model

import "time"

// ResponseEvent is a single normalized answer submission. It is immutable once
// produced by the ingestor and consumed by both estimators.
type ResponseEvent struct {
	EventID      string    `json:"event_id,omitempty"` // optional id for idempotent async submission
	StudentID    string    `json:"student_id"`
	ConceptID    string    `json:"concept_id"`
	IsCorrect    bool      `json:"is_correct"`
	ResponseTime float64   `json:"response_time"` // seconds
	HintCount    int       `json:"hint_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// RelatedConcept links a concept to another with a similarity weight in [0,1].
// Mastery is an optional caller-supplied fused score used when the store holds
// no state for the related concept.
type RelatedConcept struct {
	ConceptID  string   `json:"concept_id"`
	Similarity float64  `json:"similarity"`
	Mastery    *float64 `json:"mastery,omitempty"`
}

// Key identifies a mastery state.
type Key struct {
	StudentID string
	ConceptID string
}

// String renders the key as student/concept.
func (k Key) String() string {
	return k.StudentID + "/" + k.ConceptID
}

// KeyOf returns the mastery key of an event.
func (e ResponseEvent) KeyOf() Key {
	return Key{StudentID: e.StudentID, ConceptID: e.ConceptID}
}

// MasteryRequest is a validated response event with the related concepts that
// feed cross-concept transfer.
type MasteryRequest struct {
	Event   ResponseEvent    `json:"event"`
	Related []RelatedConcept `json:"related_concepts,omitempty"`
	// Attempts counts requeues after lock timeouts.
	Attempts int `json:"-"`
}
