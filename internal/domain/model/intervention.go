package model

import "time"

// InterventionRecord links a teacher action to the mastery of its targets at
// submission time. Records are append-only.
type InterventionRecord struct {
	InterventionID   string             `json:"intervention_id"`
	TeacherID        string             `json:"teacher_id"`
	ConceptID        string             `json:"concept_id"`
	InterventionType string             `json:"intervention_type"`
	TargetStudents   []string           `json:"target_students"`
	MasteryBefore    float64            `json:"mastery_before"`
	StudentsBefore   map[string]float64 `json:"students_before"`
	Notes            string             `json:"notes,omitempty"`
	PerformedAt      time.Time          `json:"performed_at"`
}

// InterventionImpact compares an intervention's snapshot with current mastery.
type InterventionImpact struct {
	Record        InterventionRecord `json:"intervention"`
	MasteryAfter  float64            `json:"mastery_after"`
	Delta         float64            `json:"delta"`
	StudentsAfter map[string]float64 `json:"students_after"`
	Improved      int                `json:"improved"`
	MeasuredAt    time.Time          `json:"measured_at"`
}
