package engagement

import (
	"fmt"
	"time"
)

// Bands are the lower bounds of each level above CRITICAL.
type Bands struct {
	Engaged float64
	Passive float64
	Monitor float64
	AtRisk  float64
}

// Params are the engagement heuristics, fusion weights and decay constants.
type Params struct {
	// Pacing.
	CVThreshold  float64
	CVPenaltyMax float64
	ErraticCV    float64

	// Idle gaps.
	IdleGap        time.Duration
	IdlePenalty    float64
	IdlePenaltyMax float64
	LongIdleCount  int

	// Guessing.
	QuickAnswer     time.Duration
	QuickFraction   float64
	MinGuessAnswers int
	UniformEntropy  float64
	ChanceAccuracy  float64
	GuessPenalty    float64

	LowSelfReport     float64
	ExplicitFreshness time.Duration
	// ImplicitWeight applies while a self-report is fresh, StaleImplicitWeight otherwise.
	ImplicitWeight      float64
	StaleImplicitWeight float64
	// Smoothing is the share of the instantaneous score in the new fused score.
	Smoothing float64

	Bands Bands

	Baseline  float64
	Timeout   time.Duration
	DecayRate float64 // per minute past the timeout

	WindowSize int
	// TrendDelta is the index change reported as improving or declining.
	TrendDelta float64
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		CVThreshold:         0.75,
		CVPenaltyMax:        20,
		ErraticCV:           1,
		IdleGap:             60 * time.Second,
		IdlePenalty:         10,
		IdlePenaltyMax:      30,
		LongIdleCount:       2,
		QuickAnswer:         3 * time.Second,
		QuickFraction:       0.5,
		MinGuessAnswers:     3,
		UniformEntropy:      0.9,
		ChanceAccuracy:      0.4,
		GuessPenalty:        30,
		LowSelfReport:       40,
		ExplicitFreshness:   10 * time.Minute,
		ImplicitWeight:      0.6,
		StaleImplicitWeight: 0.85,
		Smoothing:           0.6,
		Bands:               Bands{Engaged: 75, Passive: 60, Monitor: 50, AtRisk: 35},
		Baseline:            50,
		Timeout:             5 * time.Minute,
		DecayRate:           0.1,
		WindowSize:          20,
		TrendDelta:          2,
	}
}

// Validate checks band ordering and weight ranges.
func (p Params) Validate() error {
	b := p.Bands
	if !(b.Engaged >= b.Passive && b.Passive >= b.Monitor && b.Monitor >= b.AtRisk && b.AtRisk >= 0 && b.Engaged <= 100) {
		return fmt.Errorf("%w: bands must descend from engaged to at_risk within [0,100]", ErrInvalidParams)
	}
	for name, w := range map[string]float64{
		"implicit_weight": p.ImplicitWeight, "stale_implicit_weight": p.StaleImplicitWeight, "smoothing": p.Smoothing,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: %s must be in [0,1]", ErrInvalidParams, name)
		}
	}
	if p.Baseline < 0 || p.Baseline > 100 {
		return fmt.Errorf("%w: baseline must be in [0,100]", ErrInvalidParams)
	}
	if p.Timeout <= 0 || p.DecayRate <= 0 {
		return fmt.Errorf("%w: timeout and decay rate must be positive", ErrInvalidParams)
	}
	if p.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be positive", ErrInvalidParams)
	}
	return nil
}
