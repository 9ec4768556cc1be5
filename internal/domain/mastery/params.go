package mastery

import (
	"fmt"
	"math"
)

// Params are the numeric parameters of the hybrid estimator.
type Params struct {
	// Knowledge tracing.
	Prior float64
	Learn float64
	Slip  float64
	Guess float64

	// Recency weighting.
	Lambda      float64
	HintPenalty float64
	HintFloor   float64

	// Memory slot.
	AddRate   float64
	EraseRate float64

	// Fusion, indexed bkt, dkt, dkvmn.
	Weights           [3]float64
	Tau               [3]float64
	ConfidenceCeiling float64
	ConfidenceTau     float64

	VelocityWindow int
	HistoryWindow  int

	MasteryThreshold float64
	DecayThreshold   float64
	AdvanceThreshold float64
	// ReviewThreshold separates intensive review from targeted practice.
	ReviewThreshold float64
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		Prior:             0.3,
		Learn:             0.15,
		Slip:              0.1,
		Guess:             0.2,
		Lambda:            0.85,
		HintPenalty:       0.15,
		HintFloor:         0.4,
		AddRate:           0.3,
		EraseRate:         0.15,
		Weights:           [3]float64{0.4, 0.35, 0.25},
		Tau:               [3]float64{3, 5, 8},
		ConfidenceCeiling: 0.98,
		ConfidenceTau:     5,
		VelocityWindow:    5,
		HistoryWindow:     50,
		MasteryThreshold:  70,
		DecayThreshold:    5,
		AdvanceThreshold:  80,
		ReviewThreshold:   50,
	}
}

// Validate checks the parameters. slip+guess below one keeps the knowledge
// component non-decreasing under correct answers.
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"prior": p.Prior, "learn": p.Learn, "slip": p.Slip, "guess": p.Guess,
		"add_rate": p.AddRate, "erase_rate": p.EraseRate, "hint_floor": p.HintFloor,
	} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidParams, name, v)
		}
	}
	if p.Slip+p.Guess >= 1 {
		return fmt.Errorf("%w: slip+guess must be below 1", ErrInvalidParams)
	}
	if p.Lambda <= 0 || p.Lambda > 1 {
		return fmt.Errorf("%w: lambda must be in (0,1]", ErrInvalidParams)
	}
	if p.HintPenalty < 0 {
		return fmt.Errorf("%w: hint_penalty must be non-negative", ErrInvalidParams)
	}
	var sum float64
	for i := range p.Weights {
		if p.Weights[i] < 0 {
			return fmt.Errorf("%w: fusion weights must be non-negative", ErrInvalidParams)
		}
		if p.Tau[i] <= 0 {
			return fmt.Errorf("%w: confidence taus must be positive", ErrInvalidParams)
		}
		sum += p.Weights[i]
	}
	if sum <= 0 {
		return fmt.Errorf("%w: fusion weights must not all be zero", ErrInvalidParams)
	}
	if p.ConfidenceCeiling <= 0 || p.ConfidenceCeiling > 1 || p.ConfidenceTau <= 0 {
		return fmt.Errorf("%w: confidence ceiling must be in (0,1] and tau positive", ErrInvalidParams)
	}
	if p.VelocityWindow < 2 || p.HistoryWindow < p.VelocityWindow {
		return fmt.Errorf("%w: velocity window must be >= 2 and fit in the history window", ErrInvalidParams)
	}
	if p.ReviewThreshold < 0 || p.MasteryThreshold < p.ReviewThreshold || p.AdvanceThreshold < p.MasteryThreshold {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= review <= mastery <= advance <= 100", ErrInvalidParams)
	}
	if p.AdvanceThreshold > 100 || p.DecayThreshold < 0 {
		return fmt.Errorf("%w: advance threshold above 100 or negative decay threshold", ErrInvalidParams)
	}
	return nil
}
