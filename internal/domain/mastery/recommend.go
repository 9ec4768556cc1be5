package mastery

import "github.com/okian/amep/internal/domain/model"

// NeedsPractice reports whether a concept is below mastery or slipping.
func NeedsPractice(fused, velocity float64, p Params) bool {
	return fused < p.MasteryThreshold || velocity < -p.DecayThreshold
}

// Recommend maps a mastery reading to an action. It depends only on its inputs.
func Recommend(fused float64, needsPractice bool, velocity float64, p Params) model.Recommendation {
	switch {
	case needsPractice && fused < p.ReviewThreshold:
		return model.Recommendation{Action: model.ActionIntensiveReview, Detail: "re-teach with worked examples before more practice"}
	case needsPractice && velocity < -p.DecayThreshold:
		return model.Recommendation{Action: model.ActionTargetedPractice, Detail: "mastery is slipping, 3-5 spaced review questions"}
	case needsPractice:
		return model.Recommendation{Action: model.ActionTargetedPractice, Detail: "3-5 scaffolded questions on this concept"}
	case fused >= p.AdvanceThreshold:
		return model.Recommendation{Action: model.ActionAdvance, Detail: "ready for the next concept"}
	default:
		return model.Recommendation{Action: model.ActionLightReview, Detail: "1-2 questions for maintenance"}
	}
}

func assess(st *model.MasteryState, p Params) (bool, model.Recommendation) {
	if st == nil {
		return true, Recommend(0, true, 0, p)
	}
	np := NeedsPractice(st.FusedScore, st.LearningVelocity, p)
	return np, Recommend(st.FusedScore, np, st.LearningVelocity, p)
}
