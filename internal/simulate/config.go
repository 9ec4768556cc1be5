package simulate

import "time"

// Config holds configuration for a classroom simulation run.
type Config struct {
	BaseURL string        // Base URL of the engine
	Timeout time.Duration // HTTP request timeout
	Workers int           // Concurrent requests in flight

	Students          int      // Number of simulated students
	Classes           int      // Students are spread round robin over this many classes
	Concepts          []string // Concepts every student practices
	AnswersPerConcept int      // Answers per student and concept
	DuplicateRate     float64  // Share of answers submitted twice with the same event_id
	SubjectArea       string   // Subject used for practice session requests

	Settle     time.Duration // Upper bound on waiting for queued events to apply
	Seed       uint64        // Seed for the answer generator
	OutputFile string        // Where generated answers are written; empty skips it
	Verbose    bool
}

// Answer is the body of POST /api/events.
type Answer struct {
	EventID      string  `json:"event_id"`
	StudentID    string  `json:"student_id"`
	ConceptID    string  `json:"concept_id"`
	IsCorrect    bool    `json:"is_correct"`
	ResponseTime float64 `json:"response_time"`
	HintCount    int     `json:"hint_count"`
	Timestamp    string  `json:"timestamp"`
}

// Signals is the body of POST /api/engagement/analyze.
type Signals struct {
	StudentID       string          `json:"student_id"`
	ClassID         string          `json:"class_id"`
	ImplicitSignals ImplicitSignals `json:"implicit_signals"`
	ExplicitSignals ExplicitSignals `json:"explicit_signals"`
}

// ImplicitSignals mirrors the engine's behavioural signals.
type ImplicitSignals struct {
	ResponseTimes []float64 `json:"response_times,omitempty"`
	IdleGaps      []float64 `json:"idle_gaps,omitempty"`
}

// ExplicitSignals mirrors the engine's self-report.
type ExplicitSignals struct {
	Rating *float64 `json:"rating,omitempty"`
}

// Student is one simulated learner.
type Student struct {
	ID      string
	ClassID string
	Ability float64 // initial probability of a correct answer
	Gain    float64 // added to Ability per answer
	Pace    float64 // mean response time in seconds
}

// ConceptMastery is the part of a mastery read the simulation checks.
type ConceptMastery struct {
	State struct {
		ConceptID  string  `json:"concept_id"`
		FusedScore float64 `json:"fused_score"`
		EventCount int     `json:"event_count"`
	} `json:"state"`
	NeedsPractice  bool `json:"needs_practice"`
	Recommendation struct {
		Action string `json:"action"`
	} `json:"recommendation"`
}

// StudentMastery is the body of GET /api/mastery/student/{id}.
type StudentMastery struct {
	StudentID string           `json:"student_id"`
	Concepts  []ConceptMastery `json:"concepts"`
}

// ClassReport is the part of a class dashboard the simulation logs.
type ClassReport struct {
	ClassID         string         `json:"class_id"`
	StudentCount    int            `json:"student_count"`
	EngagementIndex float64        `json:"class_engagement_index"`
	Distribution    map[string]int `json:"distribution"`
	AlertCount      int            `json:"alert_count"`
}

// AckResponse represents the response from event submission.
type AckResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Stats holds run statistics.
type Stats struct {
	AnswersGenerated  int
	AnswersSubmitted  int
	AnswersAccepted   int
	AnswersDuplicate  int
	AnswersFailed     int
	SignalsSubmitted  int
	StudentsVerified  int
	CountMismatches   int
	SessionsPlanned   int
	SessionsNoContent int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
