package model

import "time"

// ContentItem is a practice item in the content catalog.
type ContentItem struct {
	ItemID        string  `json:"item_id" yaml:"item_id"`
	ConceptID     string  `json:"concept_id" yaml:"concept_id"`
	SubjectArea   string  `json:"subject_area" yaml:"subject_area"`
	Difficulty    float64 `json:"difficulty" yaml:"difficulty"`         // [0,1]
	EstimatedTime float64 `json:"estimated_time" yaml:"estimated_time"` // minutes
}

// ZPD alignment classes.
const (
	ZPDOptimal = "Optimal"
	ZPDTooEasy = "Too Easy"
	ZPDTooHard = "Too Hard"
)

// PracticeSession is an immutable planned practice session. A newer plan
// supersedes it; it is never mutated.
type PracticeSession struct {
	SessionID         string        `json:"session_id"`
	StudentID         string        `json:"student_id"`
	SubjectArea       string        `json:"subject_area"`
	ContentItems      []ContentItem `json:"content_items"`
	TotalItems        int           `json:"total_items"`
	EstimatedDuration float64       `json:"estimated_duration"`
	CognitiveLoad     float64       `json:"cognitive_load"`
	LoadStatus        string        `json:"load_status"`
	ZPDAlignment      string        `json:"zpd_alignment"`
	CreatedAt         time.Time     `json:"created_at"`
}

// PlanRequest asks for a practice session.
type PlanRequest struct {
	StudentID       string  `json:"student_id"`
	DurationMinutes float64 `json:"session_duration"`
	SubjectArea     string  `json:"subject_area"`
}
