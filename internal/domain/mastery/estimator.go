// Package mastery estimates per-concept mastery from response events by fusing
// a knowledge-tracing component, a recency-weighted outcome average and a
// memory slot that borrows from related concepts.
package mastery

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/amep/internal/domain/model"
)

// Estimator names.
const (
	NameHybrid  = "hybrid"
	NameFixture = "fixture"
)

// Estimator turns a previous state and one event into the next state.
// Implementations never mutate prev. A nil or archived prev starts fresh.
type Estimator interface {
	Name() string
	Update(prev *model.MasteryState, ev model.ResponseEvent, related []model.RelatedConcept) (*model.MasteryState, error)
	Assess(st *model.MasteryState) (needsPractice bool, rec model.Recommendation)
}

// New returns the estimator registered under name.
func New(name string, p Params) (Estimator, error) {
	switch name {
	case "", NameHybrid:
		return NewHybrid(p)
	case NameFixture:
		return NewFixture(p), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEstimator, name)
}

// HybridEstimator is the production estimator.
type HybridEstimator struct {
	p Params
}

// NewHybrid validates p and returns a HybridEstimator.
func NewHybrid(p Params) (*HybridEstimator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &HybridEstimator{p: p}, nil
}

// Name implements Estimator.
func (h *HybridEstimator) Name() string { return NameHybrid }

// Params returns the estimator's parameters.
func (h *HybridEstimator) Params() Params { return h.p }

// Update implements Estimator.
func (h *HybridEstimator) Update(prev *model.MasteryState, ev model.ResponseEvent, related []model.RelatedConcept) (*model.MasteryState, error) {
	st, err := next(prev, ev, h.p.Prior, h.p.HistoryWindow)
	if err != nil {
		return nil, err
	}

	st.PKnown = h.trace(st.PKnown, ev.IsCorrect)
	st.BKT = clamp(100*st.PKnown, 0, 100)

	st.RecencyNum = h.p.Lambda*st.RecencyNum + h.outcome(ev)
	st.RecencyDen = h.p.Lambda*st.RecencyDen + 1
	st.DKT = clamp(100*st.RecencyNum/st.RecencyDen, 0, 100)

	if ev.IsCorrect {
		st.Memory += h.p.AddRate * (1 - st.Memory)
	} else {
		st.Memory *= 1 - h.p.EraseRate
	}
	st.DKVMN = clamp(transfer(st.Memory, related), 0, 100)

	n := float64(st.EventCount)
	components := [3]float64{st.BKT, st.DKT, st.DKVMN}
	var num, den float64
	for i, x := range components {
		wc := h.p.Weights[i] * (1 - math.Exp(-n/h.p.Tau[i]))
		num += wc * x
		den += wc
	}
	if den > 0 {
		st.FusedScore = clamp(num/den, 0, 100)
	}
	st.Confidence = clamp(h.p.ConfidenceCeiling*(1-math.Exp(-n/h.p.ConfidenceTau)), 0, 1)

	st.Trajectory = appendWindow(st.Trajectory, model.ScorePoint{At: ev.Timestamp, Score: st.FusedScore}, h.p.HistoryWindow)
	st.LearningVelocity = velocity(st.Trajectory, h.p.VelocityWindow)
	return st, nil
}

// Assess implements Estimator.
func (h *HybridEstimator) Assess(st *model.MasteryState) (bool, model.Recommendation) {
	return assess(st, h.p)
}

// trace applies the Bayesian posterior for the observed answer and then the
// learning transition.
func (h *HybridEstimator) trace(p float64, correct bool) float64 {
	var post float64
	if correct {
		hit := p * (1 - h.p.Slip)
		post = hit / (hit + (1-p)*h.p.Guess)
	} else {
		miss := p * h.p.Slip
		post = miss / (miss + (1-p)*(1-h.p.Guess))
	}
	if math.IsNaN(post) {
		post = p
	}
	return clamp(post+(1-post)*h.p.Learn, 0, 1)
}

// outcome is 1 for an unaided correct answer, reduced per hint down to the floor.
func (h *HybridEstimator) outcome(ev model.ResponseEvent) float64 {
	if !ev.IsCorrect {
		return 0
	}
	return math.Max(h.p.HintFloor, 1-h.p.HintPenalty*float64(ev.HintCount))
}

// transfer blends the concept's own memory with related concepts' fused
// scores weighted by similarity.
func transfer(memory float64, related []model.RelatedConcept) float64 {
	num, den := memory, 1.0
	for _, r := range related {
		if r.Mastery == nil || r.Similarity <= 0 {
			continue
		}
		num += r.Similarity * clamp(*r.Mastery, 0, 100) / 100
		den += r.Similarity
	}
	return 100 * num / den
}

// next returns a mutable copy of prev, or a fresh state, with ev recorded.
func next(prev *model.MasteryState, ev model.ResponseEvent, prior float64, window int) (*model.MasteryState, error) {
	key := ev.KeyOf()
	var st *model.MasteryState
	if prev == nil || prev.Archived {
		st = Fresh(key, prior, ev.Timestamp)
	} else {
		if prev.Key() != key {
			return nil, fmt.Errorf("%w: %s vs %s", ErrKeyMismatch, key, prev.Key())
		}
		st = prev.Clone()
	}
	st.EventCount++
	st.History = appendWindow(st.History, ev, window)
	st.UpdatedAt = ev.Timestamp
	return st, nil
}

// Fresh returns an empty state for key at the prior.
func Fresh(key model.Key, prior float64, at time.Time) *model.MasteryState {
	return &model.MasteryState{
		StudentID: key.StudentID,
		ConceptID: key.ConceptID,
		PKnown:    prior,
		Memory:    prior,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// velocity is the least-squares slope of the last k points in score points
// per event. Answer pacing does not change it.
func velocity(points []model.ScorePoint, k int) float64 {
	if len(points) > k {
		points = points[len(points)-k:]
	}
	if len(points) < 2 {
		return 0
	}
	xs := make([]float64, len(points))
	for i := range xs {
		xs[i] = float64(i)
	}
	if s := slope(xs, points); !math.IsNaN(s) {
		return s
	}
	return 0
}

func slope(xs []float64, points []model.ScorePoint) float64 {
	n := float64(len(xs))
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += points[i].Score
	}
	mx /= n
	my /= n
	var sxy, sxx float64
	for i := range xs {
		dx := xs[i] - mx
		sxy += dx * (points[i].Score - my)
		sxx += dx * dx
	}
	if sxx < 1e-12 {
		return math.NaN()
	}
	return sxy / sxx
}

func appendWindow[T any](s []T, v T, window int) []T {
	s = append(s, v)
	if window > 0 && len(s) > window {
		s = append([]T(nil), s[len(s)-window:]...)
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
