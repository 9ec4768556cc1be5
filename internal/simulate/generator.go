package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Ability bands a roster is drawn from.
const (
	abilityMin = 0.25
	abilityMax = 0.9
	gainMax    = 0.04
	paceMin    = 4.0
	paceMax    = 30.0
)

// Generator builds a deterministic roster and answer stream from a seed.
type Generator struct {
	cfg *Config
	rng *rand.Rand
	now time.Time
}

// NewGenerator returns a generator for cfg. Timestamps count back from now.
func NewGenerator(cfg *Config, now time.Time) *Generator {
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		now: now.UTC(),
	}
}

// Roster returns cfg.Students students spread over cfg.Classes classes.
func (g *Generator) Roster() []Student {
	classes := max(g.cfg.Classes, 1)
	out := make([]Student, g.cfg.Students)
	for i := range out {
		out[i] = Student{
			ID:      "stu-" + uuid.NewString(),
			ClassID: fmt.Sprintf("class-%d", i%classes+1),
			Ability: abilityMin + g.rng.Float64()*(abilityMax-abilityMin),
			Gain:    g.rng.Float64() * gainMax,
			Pace:    paceMin + g.rng.Float64()*(paceMax-paceMin),
		}
	}
	return out
}

// Answers returns every answer of every student. Answers of one student and
// concept are one minute apart and ordered in time.
func (g *Generator) Answers(roster []Student) []Answer {
	n := g.cfg.AnswersPerConcept
	start := g.now.Add(-time.Duration(n) * time.Minute)
	out := make([]Answer, 0, len(roster)*len(g.cfg.Concepts)*n)
	for _, s := range roster {
		for _, c := range g.cfg.Concepts {
			p := s.Ability
			for i := 0; i < n; i++ {
				correct := g.rng.Float64() < p
				hints := 0
				if !correct && g.rng.Float64() < 0.3 {
					hints = 1
				}
				out = append(out, Answer{
					EventID:      uuid.NewString(),
					StudentID:    s.ID,
					ConceptID:    c,
					IsCorrect:    correct,
					ResponseTime: g.responseTime(s.Pace),
					HintCount:    hints,
					Timestamp:    start.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
				})
				p = math.Min(0.97, p+s.Gain)
			}
		}
	}
	return out
}

// Duplicates picks the answers to be resubmitted under the same event_id.
func (g *Generator) Duplicates(answers []Answer) []Answer {
	var out []Answer
	for _, a := range answers {
		if g.rng.Float64() < g.cfg.DuplicateRate {
			out = append(out, a)
		}
	}
	return out
}

// Signals returns one engagement submission per student. Able students pace
// steadily and rate highly; weak ones are erratic and idle.
func (g *Generator) Signals(roster []Student) []Signals {
	out := make([]Signals, 0, len(roster))
	for _, s := range roster {
		times := make([]float64, 6)
		for i := range times {
			times[i] = g.responseTime(s.Pace)
		}
		var gaps []float64
		if s.Ability < 0.45 {
			gaps = []float64{90 + g.rng.Float64()*120, 75 + g.rng.Float64()*60}
		}
		rating := math.Round(1 + 4*s.Ability)
		out = append(out, Signals{
			StudentID:       s.ID,
			ClassID:         s.ClassID,
			ImplicitSignals: ImplicitSignals{ResponseTimes: times, IdleGaps: gaps},
			ExplicitSignals: ExplicitSignals{Rating: &rating},
		})
	}
	return out
}

// Expected returns the number of distinct answers per student and concept.
func Expected(answers []Answer) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, a := range answers {
		if out[a.StudentID] == nil {
			out[a.StudentID] = make(map[string]int)
		}
		out[a.StudentID][a.ConceptID]++
	}
	return out
}

// responseTime draws around pace with a floor of one second.
func (g *Generator) responseTime(pace float64) float64 {
	return math.Round(math.Max(1, pace*(0.6+0.8*g.rng.Float64()))*10) / 10
}
