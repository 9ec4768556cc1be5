package engagement

import (
	"sort"
	"time"

	"github.com/okian/amep/internal/domain/model"
)

// Trend labels for class aggregation.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// Aggregate builds the class dashboard from the students' states, decayed to
// now. prev is the previous aggregation for the class and may be nil.
func (e *Estimator) Aggregate(classID string, states []*model.EngagementState, prev *model.ClassEngagement, now time.Time) model.ClassEngagement {
	out := model.ClassEngagement{
		ClassID:      classID,
		Distribution: make(map[model.EngagementLevel]int, len(model.Levels)),
		Trend:        TrendStable,
		GeneratedAt:  now,
	}
	for _, lv := range model.Levels {
		out.Distribution[lv] = 0
	}

	var sum float64
	engaged := 0
	for _, raw := range states {
		if raw == nil {
			continue
		}
		st := e.Decay(raw, now)
		out.StudentCount++
		sum += st.FusedScore
		out.Distribution[st.Level]++
		switch st.Level {
		case model.LevelEngaged, model.LevelPassive:
			engaged++
		case model.LevelAtRisk, model.LevelCritical:
			out.AlertCount++
			out.NeedingAttention = append(out.NeedingAttention, model.StudentAttention{
				StudentID:       st.StudentID,
				FusedScore:      st.FusedScore,
				Level:           st.Level,
				Recommendations: e.Recommendations(st.Level, nil),
			})
		}
	}
	if out.StudentCount == 0 {
		return out
	}

	out.EngagementIndex = sum / float64(out.StudentCount)
	out.EngagementRate = 100 * float64(engaged) / float64(out.StudentCount)
	sort.Slice(out.NeedingAttention, func(i, j int) bool {
		a, b := out.NeedingAttention[i], out.NeedingAttention[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore < b.FusedScore
		}
		return a.StudentID < b.StudentID
	})

	if prev != nil && prev.StudentCount > 0 {
		switch d := out.EngagementIndex - prev.EngagementIndex; {
		case d > e.p.TrendDelta:
			out.Trend = TrendImproving
		case d < -e.p.TrendDelta:
			out.Trend = TrendDeclining
		}
	}
	return out
}

// Distribution counts students per level as plain strings, for metrics.
func Distribution(c model.ClassEngagement) map[string]int {
	out := make(map[string]int, len(c.Distribution))
	for lv, n := range c.Distribution {
		out[string(lv)] = n
	}
	return out
}
