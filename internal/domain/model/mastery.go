package model

import "time"

// ScorePoint is one fused score observation used for velocity estimation.
type ScorePoint struct {
	At    time.Time `json:"at"`
	Score float64   `json:"score"`
}

// MasteryState is the belief about one student's mastery of one concept.
// FusedScore is derived from the three components and is never set directly.
type MasteryState struct {
	StudentID string `json:"student_id"`
	ConceptID string `json:"concept_id"`

	BKT   float64 `json:"bkt_component"`
	DKT   float64 `json:"dkt_component"`
	DKVMN float64 `json:"dkvmn_component"`

	FusedScore       float64 `json:"fused_score"`
	Confidence       float64 `json:"confidence"`
	LearningVelocity float64 `json:"learning_velocity"`

	EventCount int             `json:"event_count"`
	History    []ResponseEvent `json:"history"`
	Trajectory []ScorePoint    `json:"trajectory"`

	// Running quantities that let each component update without rescanning history.
	PKnown     float64 `json:"p_known"`
	RecencyNum float64 `json:"recency_num"`
	RecencyDen float64 `json:"recency_den"`
	Memory     float64 `json:"memory"`

	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the state's key.
func (s *MasteryState) Key() Key {
	return Key{StudentID: s.StudentID, ConceptID: s.ConceptID}
}

// Clone returns a deep copy safe to mutate.
func (s *MasteryState) Clone() *MasteryState {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]ResponseEvent(nil), s.History...)
	c.Trajectory = append([]ScorePoint(nil), s.Trajectory...)
	return &c
}

// Action is an ordinal practice recommendation.
type Action string

const (
	ActionIntensiveReview  Action = "INTENSIVE_REVIEW"
	ActionTargetedPractice Action = "TARGETED_PRACTICE"
	ActionLightReview      Action = "LIGHT_REVIEW"
	ActionAdvance          Action = "ADVANCE"
)

// Rank orders actions from most remedial (0) to most advanced.
func (a Action) Rank() int {
	switch a {
	case ActionIntensiveReview:
		return 0
	case ActionTargetedPractice:
		return 1
	case ActionLightReview:
		return 2
	case ActionAdvance:
		return 3
	}
	return -1
}

// Recommendation is an action plus its human-readable detail.
type Recommendation struct {
	Action Action `json:"action"`
	Detail string `json:"detail"`
}

// String renders the recommendation the way teachers see it.
func (r Recommendation) String() string {
	return string(r.Action) + " - " + r.Detail
}

// MasteryResult is the outcome of one mastery update.
type MasteryResult struct {
	State          *MasteryState  `json:"state"`
	NeedsPractice  bool           `json:"needs_practice"`
	Recommendation Recommendation `json:"recommendation"`
	// Stale is set when the update could not be applied in time and State is the
	// last known snapshot.
	Stale bool `json:"stale,omitempty"`
}
