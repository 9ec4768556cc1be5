// Package engagement scores student engagement from behavioural and
// self-reported signals and aggregates it per class.
package engagement

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/amep/internal/domain/model"
)

// Behavior flags raised by the heuristics.
const (
	BehaviorQuickGuessing = "quick_guessing"
	BehaviorLongIdle      = "long_idle"
	BehaviorErraticPacing = "erratic_pacing"
	BehaviorLowSelfReport = "low_self_report"
)

var routine = map[model.EngagementLevel]string{
	model.LevelEngaged:  "Maintain current approach",
	model.LevelPassive:  "Monitor progress for next 3-5 days",
	model.LevelMonitor:  "Increase interactive checks during session",
	model.LevelAtRisk:   "Schedule 1-on-1 within 48 hours",
	model.LevelCritical: "Immediate teacher intervention required",
}

var behaviorAdvice = map[string]string{
	BehaviorQuickGuessing: "Add time-lock to questions (quick guessing detected)",
	BehaviorLongIdle:      "Check in on the student (repeated long idle periods)",
	BehaviorErraticPacing: "Break work into shorter timed segments (erratic pacing)",
	BehaviorLowSelfReport: "Ask about difficulty or interest (low self-reported engagement)",
}

// Estimator is a pure engagement estimator. It never mutates its inputs.
type Estimator struct {
	p Params
}

// New validates p and returns an Estimator.
func New(p Params) (*Estimator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{p: p}, nil
}

// Params returns the estimator's parameters.
func (e *Estimator) Params() Params { return e.p }

// Update folds sig into prev as of now.
func (e *Estimator) Update(prev *model.EngagementState, sig model.EngagementSignals, now time.Time) model.EngagementResult {
	implicit, behaviors := e.implicit(sig.Implicit)

	var st *model.EngagementState
	if prev != nil {
		st = e.Decay(prev, now)
	} else {
		st = &model.EngagementState{StudentID: sig.StudentID}
	}
	previous := st.Level
	if sig.ClassID != "" {
		st.ClassID = sig.ClassID
	}

	explicit, fresh := st.Explicit, false
	if sig.Explicit.Present() {
		explicit = selfReport(sig.Explicit)
		reported := sig.Explicit.ReportedAt
		if reported.IsZero() {
			reported = now
		}
		st.LastExplicitAt = reported
	}
	if !st.LastExplicitAt.IsZero() && now.Sub(st.LastExplicitAt) <= e.p.ExplicitFreshness {
		fresh = true
	} else {
		explicit = e.p.Baseline
	}
	if fresh && explicit < e.p.LowSelfReport {
		behaviors = append(behaviors, BehaviorLowSelfReport)
	}

	w := e.p.StaleImplicitWeight
	if fresh {
		w = e.p.ImplicitWeight
	}
	instant := clamp(w*implicit+(1-w)*explicit, 0, 100)

	fused := instant
	if prev != nil {
		fused = clamp((1-e.p.Smoothing)*st.FusedScore+e.p.Smoothing*instant, 0, 100)
	}

	st.Implicit = implicit
	st.Explicit = explicit
	st.FusedScore = fused
	st.Level = e.Level(fused)
	st.LastSignalAt = now
	st.UpdatedAt = now
	st.RecentWindow = append(st.RecentWindow, model.EngagementSample{
		At: now, Implicit: implicit, Explicit: explicit, Score: instant, Behaviors: behaviors,
	})
	if len(st.RecentWindow) > e.p.WindowSize {
		st.RecentWindow = append([]model.EngagementSample(nil), st.RecentWindow[len(st.RecentWindow)-e.p.WindowSize:]...)
	}

	res := model.EngagementResult{
		State:             st,
		PreviousLevel:     previous,
		BehaviorsDetected: len(behaviors),
		Behaviors:         behaviors,
	}
	if previous != "" && st.Level.Severity()-previous.Severity() > 1 {
		res.Alert = true
		res.AlertMessage = fmt.Sprintf("ALERT: engagement dropped from %s to %s, contact the student today", previous, st.Level)
		res.Recommendations = append(res.Recommendations, res.AlertMessage)
	}
	res.Recommendations = append(res.Recommendations, e.Recommendations(st.Level, behaviors)...)
	return res
}

// Recommendations returns the routine advice for level followed by advice per behavior.
func (e *Estimator) Recommendations(level model.EngagementLevel, behaviors []string) []string {
	recs := []string{routine[level]}
	for _, b := range behaviors {
		if r, ok := behaviorAdvice[b]; ok {
			recs = append(recs, r)
		}
	}
	return recs
}

// Level maps a fused score to its band.
func (e *Estimator) Level(score float64) model.EngagementLevel {
	b := e.p.Bands
	switch {
	case score >= b.Engaged:
		return model.LevelEngaged
	case score >= b.Passive:
		return model.LevelPassive
	case score >= b.Monitor:
		return model.LevelMonitor
	case score >= b.AtRisk:
		return model.LevelAtRisk
	default:
		return model.LevelCritical
	}
}

// Decay returns a copy of st drifted toward the baseline for the time past the
// timeout. Decaying in several steps gives the same result as one step.
func (e *Estimator) Decay(st *model.EngagementState, now time.Time) *model.EngagementState {
	out := st.Clone()
	idleFrom := st.LastSignalAt.Add(e.p.Timeout)
	if st.LastSignalAt.IsZero() || !now.After(idleFrom) {
		return out
	}
	ref := idleFrom
	if st.UpdatedAt.After(ref) {
		ref = st.UpdatedAt
	}
	if !now.After(ref) {
		return out
	}
	k := math.Exp(-e.p.DecayRate * now.Sub(ref).Minutes())
	out.FusedScore = e.p.Baseline + (st.FusedScore-e.p.Baseline)*k
	out.Level = e.Level(out.FusedScore)
	out.UpdatedAt = now
	return out
}

// Idle reports whether st has gone without signals past the timeout.
func (e *Estimator) Idle(st *model.EngagementState, now time.Time) bool {
	return !st.LastSignalAt.IsZero() && now.Sub(st.LastSignalAt) > e.p.Timeout
}

func (e *Estimator) implicit(sig model.ImplicitSignals) (float64, []string) {
	score := 100.0
	var behaviors []string

	times := sig.ResponseTimes
	if len(times) == 0 {
		for _, a := range sig.Answers {
			times = append(times, a.ResponseTime)
		}
	}
	if cv := coefficientOfVariation(times); cv > e.p.CVThreshold {
		score -= math.Min(e.p.CVPenaltyMax, e.p.CVPenaltyMax*(cv-e.p.CVThreshold)/e.p.CVThreshold)
		if cv > e.p.ErraticCV {
			behaviors = append(behaviors, BehaviorErraticPacing)
		}
	}

	idle := 0
	for _, g := range sig.IdleGaps {
		if g > e.p.IdleGap.Seconds() {
			idle++
		}
	}
	if idle > 0 {
		score -= math.Min(e.p.IdlePenaltyMax, e.p.IdlePenalty*float64(idle))
		if idle >= e.p.LongIdleCount {
			behaviors = append(behaviors, BehaviorLongIdle)
		}
	}

	if e.guessing(sig.Answers) {
		score -= e.p.GuessPenalty
		behaviors = append(behaviors, BehaviorQuickGuessing)
	}
	return clamp(score, 0, 100), behaviors
}

// guessing flags fast answers that are spread evenly over the options or no
// better than chance.
func (e *Estimator) guessing(answers []model.AnswerSignal) bool {
	if len(answers) < e.p.MinGuessAnswers {
		return false
	}
	quick, correct := 0, 0
	counts := map[string]int{}
	options := 0
	for _, a := range answers {
		if a.ResponseTime < e.p.QuickAnswer.Seconds() {
			quick++
		}
		if a.IsCorrect {
			correct++
		}
		if a.SelectedOption != "" {
			counts[a.SelectedOption]++
		}
		if a.OptionCount > options {
			options = a.OptionCount
		}
	}
	n := float64(len(answers))
	if float64(quick)/n < e.p.QuickFraction {
		return false
	}
	return normalizedEntropy(counts, options) >= e.p.UniformEntropy || float64(correct)/n <= e.p.ChanceAccuracy
}

func normalizedEntropy(counts map[string]int, options int) float64 {
	if len(counts) > options {
		options = len(counts)
	}
	if options < 2 {
		return 0
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	return h / math.Log(float64(options))
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if mean <= 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss/float64(len(xs))) / mean
}

// selfReport maps 1-5 ratings onto 0-100 and averages those present.
func selfReport(sig model.ExplicitSignals) float64 {
	var sum float64
	n := 0
	for _, r := range []*float64{sig.Rating, sig.Confidence} {
		if r == nil {
			continue
		}
		sum += clamp((*r-1)/4*100, 0, 100)
		n++
	}
	if n == 0 {
		return 50
	}
	return sum / float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
