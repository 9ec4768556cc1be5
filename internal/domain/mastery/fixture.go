package mastery

import "github.com/okian/amep/internal/domain/model"

// FixtureEstimator is a deterministic step estimator for tests and demos.
// Every component starts at 50 and moves 10 points per answer.
type FixtureEstimator struct {
	p Params
}

// NewFixture returns a FixtureEstimator using p for thresholds and windows.
func NewFixture(p Params) *FixtureEstimator {
	return &FixtureEstimator{p: p}
}

// Name implements Estimator.
func (f *FixtureEstimator) Name() string { return NameFixture }

// Update implements Estimator.
func (f *FixtureEstimator) Update(prev *model.MasteryState, ev model.ResponseEvent, _ []model.RelatedConcept) (*model.MasteryState, error) {
	st, err := next(prev, ev, f.p.Prior, f.p.HistoryWindow)
	if err != nil {
		return nil, err
	}
	prevScore := 50.0
	if st.EventCount > 1 {
		prevScore = st.FusedScore
	}
	step := 10.0
	if !ev.IsCorrect {
		step = -10
	}
	score := clamp(prevScore+step, 0, 100)

	st.BKT, st.DKT, st.DKVMN, st.FusedScore = score, score, score, score
	st.PKnown = score / 100
	st.Confidence = clamp(float64(st.EventCount)/10, 0, 1)
	st.LearningVelocity = score - prevScore
	st.Trajectory = appendWindow(st.Trajectory, model.ScorePoint{At: ev.Timestamp, Score: score}, f.p.HistoryWindow)
	return st, nil
}

// Assess implements Estimator.
func (f *FixtureEstimator) Assess(st *model.MasteryState) (bool, model.Recommendation) {
	return assess(st, f.p)
}
