package model

import "time"

// EngagementLevel is a discrete engagement band.
type EngagementLevel string

const (
	LevelEngaged  EngagementLevel = "ENGAGED"
	LevelPassive  EngagementLevel = "PASSIVE"
	LevelMonitor  EngagementLevel = "MONITOR"
	LevelAtRisk   EngagementLevel = "AT_RISK"
	LevelCritical EngagementLevel = "CRITICAL"
)

// Levels lists engagement levels from best to worst.
var Levels = []EngagementLevel{LevelEngaged, LevelPassive, LevelMonitor, LevelAtRisk, LevelCritical}

// Severity is 0 for ENGAGED and grows as engagement worsens.
func (l EngagementLevel) Severity() int {
	for i, lv := range Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// AnswerSignal is one recent answer as seen by the engagement heuristics.
type AnswerSignal struct {
	IsCorrect      bool    `json:"is_correct"`
	ResponseTime   float64 `json:"response_time"`
	SelectedOption string  `json:"selected_option,omitempty"`
	OptionCount    int     `json:"option_count,omitempty"`
}

// ImplicitSignals are behavioural signals observed without asking the student.
type ImplicitSignals struct {
	ResponseTimes []float64      `json:"response_times,omitempty"` // seconds
	IdleGaps      []float64      `json:"idle_gaps,omitempty"`      // seconds
	Answers       []AnswerSignal `json:"answers,omitempty"`
}

// ExplicitSignals are self-reported ratings on a 1-5 scale.
type ExplicitSignals struct {
	Rating     *float64  `json:"rating,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	ReportedAt time.Time `json:"reported_at,omitempty"`
}

// Present reports whether any self-report is included.
func (e ExplicitSignals) Present() bool {
	return e.Rating != nil || e.Confidence != nil
}

// EngagementSignals is a validated engagement submission.
type EngagementSignals struct {
	StudentID string          `json:"student_id"`
	ClassID   string          `json:"class_id,omitempty"`
	Implicit  ImplicitSignals `json:"implicit_signals"`
	Explicit  ExplicitSignals `json:"explicit_signals"`
	At        time.Time       `json:"at"`
}

// EngagementSample is one entry of an engagement state's recent window.
type EngagementSample struct {
	At        time.Time `json:"at"`
	Implicit  float64   `json:"implicit"`
	Explicit  float64   `json:"explicit"`
	Score     float64   `json:"score"`
	Behaviors []string  `json:"behaviors,omitempty"`
}

// EngagementState is the rolling engagement belief for one student.
type EngagementState struct {
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id,omitempty"`

	Implicit   float64         `json:"implicit_component"`
	Explicit   float64         `json:"explicit_component"`
	FusedScore float64         `json:"fused_score"`
	Level      EngagementLevel `json:"engagement_level"`

	RecentWindow []EngagementSample `json:"recent_window"`

	LastSignalAt   time.Time `json:"last_signal_at"`
	LastExplicitAt time.Time `json:"last_explicit_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to mutate.
func (s *EngagementState) Clone() *EngagementState {
	if s == nil {
		return nil
	}
	c := *s
	c.RecentWindow = make([]EngagementSample, len(s.RecentWindow))
	for i, smp := range s.RecentWindow {
		smp.Behaviors = append([]string(nil), smp.Behaviors...)
		c.RecentWindow[i] = smp
	}
	return &c
}

// EngagementResult is the outcome of one engagement update.
type EngagementResult struct {
	State             *EngagementState `json:"state"`
	PreviousLevel     EngagementLevel  `json:"previous_level,omitempty"`
	BehaviorsDetected int              `json:"behaviors_detected"`
	Behaviors         []string         `json:"behaviors,omitempty"`
	Recommendations   []string         `json:"recommendations"`
	Alert             bool             `json:"alert"`
	AlertMessage      string           `json:"alert_message,omitempty"`
	Stale             bool             `json:"stale,omitempty"`
}

// StudentAttention is a student surfaced on the class dashboard.
type StudentAttention struct {
	StudentID       string          `json:"student_id"`
	FusedScore      float64         `json:"engagement_score"`
	Level           EngagementLevel `json:"engagement_level"`
	Recommendations []string        `json:"recommendations"`
}

// ClassEngagement aggregates engagement for a class.
type ClassEngagement struct {
	ClassID          string                  `json:"class_id"`
	StudentCount     int                     `json:"student_count"`
	EngagementIndex  float64                 `json:"class_engagement_index"`
	Distribution     map[EngagementLevel]int `json:"distribution"`
	AlertCount       int                     `json:"alert_count"`
	NeedingAttention []StudentAttention      `json:"students_needing_attention"`
	Trend            string                  `json:"trend"`
	EngagementRate   float64                 `json:"engagement_rate"`
	GeneratedAt      time.Time               `json:"generated_at"`
}
